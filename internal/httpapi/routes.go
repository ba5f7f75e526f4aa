package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ramy7777/vrpong-multi-sub000/internal/directory"
	"github.com/ramy7777/vrpong-multi-sub000/internal/gateway"
)

func SetupRoutes(d *directory.Directory, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/stats", Stats(d))
	r.Get("/ws", gateway.Handler(d, log))
	return r
}
