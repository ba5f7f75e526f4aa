package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeKeepsUnknownPayloadRaw(t *testing.T) {
	raw := []byte(`{"type":"aiChatPrompt","payload":{"text":"hi","nested":{"a":1}}}`)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.Equal(t, "aiChatPrompt", env.Type)
	require.JSONEq(t, `{"text":"hi","nested":{"a":1}}`, string(env.Payload))
}

func TestUnmarshalMissingPayloadIsZeroValue(t *testing.T) {
	var joined PlayerJoined
	require.NoError(t, Unmarshal(Envelope{Type: EvtPlayerJoined}, &joined))
	require.Zero(t, joined)
}

func TestMarshalNilPayloadOmitsField(t *testing.T) {
	env, err := Marshal(EvtGameStarted, nil)
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"gameStarted"}`, string(data))
}
