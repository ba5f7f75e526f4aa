package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ramy7777/vrpong-multi-sub000/internal/client"
	"github.com/ramy7777/vrpong-multi-sub000/internal/directory"
	"github.com/ramy7777/vrpong-multi-sub000/internal/game"
	"github.com/ramy7777/vrpong-multi-sub000/internal/httpapi"
)

const (
	waitDeadline = 3 * time.Second
	waitTick     = 10 * time.Millisecond
)

func newRelay(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	d := directory.New(ctx, zap.NewNop(), clockwork.NewRealClock())
	srv := httptest.NewServer(httpapi.SetupRoutes(d, zap.NewNop()))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func newProxy(t *testing.T, wsURL string, cb client.Callbacks) *client.Proxy {
	t.Helper()
	p, err := client.New(context.Background(), client.Options{
		URL:       wsURL,
		Logger:    zap.NewNop(),
		Callbacks: cb,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.Eventually(t, func() bool { return p.ConnID() != "" }, waitDeadline, waitTick)
	return p
}

func TestHealthz(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	d := directory.New(ctx, zap.NewNop(), clockwork.NewRealClock())
	srv := httptest.NewServer(httpapi.SetupRoutes(d, zap.NewNop()))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// Full session over real WebSockets: host -> quickJoin -> start -> claim ->
// paddle and ball replication -> host disconnect teardown.
func TestEndToEndSession(t *testing.T) {
	wsURL := newRelay(t)

	host := newProxy(t, wsURL, client.Callbacks{})
	require.NoError(t, host.HostGame())
	require.Eventually(t, func() bool { return host.Role() == client.RoleHostingUnjoined },
		waitDeadline, waitTick)

	roomID := host.RoomID()
	require.Len(t, roomID, 6)

	guestErrs := make(chan string, 4)
	guest := newProxy(t, wsURL, client.Callbacks{
		OnError: func(msg string) { guestErrs <- msg },
	})
	require.NoError(t, guest.QuickJoin())
	require.Eventually(t, func() bool { return guest.Role() == client.RoleGuestJoined },
		waitDeadline, waitTick)
	require.Eventually(t, func() bool { return host.Role() == client.RoleHostingActive },
		waitDeadline, waitTick)
	require.Equal(t, roomID, guest.RoomID())

	require.NoError(t, host.StartGame())
	require.Eventually(t, func() bool { return guest.Role() == client.RoleGuestActive },
		waitDeadline, waitTick)
	require.Eventually(t, func() bool { return host.Snapshot().Playing },
		waitDeadline, waitTick)

	// Host grabs paddle 0; the claim replicates to the guest.
	require.True(t, host.ClaimPaddle(0))
	hostID := host.ConnID()
	require.Eventually(t, func() bool {
		return guest.Snapshot().Owners[0].OwnedBy(hostID)
	}, waitDeadline, waitTick)

	// Paddle replication: display position moves, ownership does not.
	pos := game.Vec3{X: 0.2, Y: 0.9, Z: -0.1}
	require.Eventually(t, func() bool {
		host.PushPaddlePosition(0, pos)
		return guest.Paddle(0).Position() == pos
	}, waitDeadline, waitTick)
	require.True(t, guest.Snapshot().Owners[0].OwnedBy(hostID))

	// Ball replication: exact overwrite on the guest.
	ballPos := game.Vec3{X: 0, Y: 0.9, Z: -1.0}
	ballVel := game.Vec3{X: 0.01, Y: 0, Z: 0.01}
	require.Eventually(t, func() bool {
		host.PushBallState(ballPos, ballVel)
		s := guest.Snapshot()
		return s.BallPosition == ballPos && s.BallVelocity == ballVel
	}, waitDeadline, waitTick)

	// Host drops: the guest is told once and the room is gone.
	require.NoError(t, host.Close())
	require.Eventually(t, func() bool { return guest.Role() == client.RoleIdle },
		waitDeadline, waitTick)

	lateErrs := make(chan string, 1)
	straggler := newProxy(t, wsURL, client.Callbacks{
		OnError: func(msg string) { lateErrs <- msg },
	})
	require.NoError(t, straggler.QuickJoin())
	select {
	case msg := <-lateErrs:
		require.Equal(t, "no games available", msg)
	case <-time.After(waitDeadline):
		t.Fatalf("straggler never heard back")
	}
}

func TestScoreReplication(t *testing.T) {
	wsURL := newRelay(t)

	host := newProxy(t, wsURL, client.Callbacks{})
	require.NoError(t, host.HostGame())
	require.Eventually(t, func() bool { return host.Role() == client.RoleHostingUnjoined },
		waitDeadline, waitTick)

	scores := make(chan [2]int, 8)
	guest := newProxy(t, wsURL, client.Callbacks{
		OnScore: func(h, g int) { scores <- [2]int{h, g} },
	})
	require.NoError(t, guest.QuickJoin())
	require.Eventually(t, func() bool { return host.Role() == client.RoleHostingActive },
		waitDeadline, waitTick)

	host.PushScore(3, 2)
	select {
	case got := <-scores:
		require.Equal(t, [2]int{3, 2}, got)
	case <-time.After(waitDeadline):
		t.Fatalf("score never replicated")
	}
	require.Equal(t, 3, guest.Snapshot().HostScore)

	// Guests cannot push scores at all.
	guest.PushScore(99, 99)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 3, host.Snapshot().HostScore)
}
