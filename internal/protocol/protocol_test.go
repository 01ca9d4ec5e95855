package protocol

import (
	"encoding/json"
	"testing"

	"github.com/specialistvlad/ensembletrack/internal/event"
	"github.com/specialistvlad/ensembletrack/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Decode(t *testing.T) {
	// --- Arrange ---
	snap := snapshot.NewBuilder().AddStep(0, snapshot.StateUnknown).Build("ee-1", []int{0, 1}, snapshot.StateUnknown)
	snap.Iteration = 2
	full := NewSnapshot(snap)

	// --- Act ---
	raw, err := json.Marshal(full)
	require.NoError(t, err)
	decoded, err := DecodeMessage(raw)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, event.Snapshot, decoded.Kind)
	assert.Equal(t, 2, decoded.Iteration)
	assert.Equal(t, "/ensemble/ee-1", decoded.Source.String())
	require.NotNil(t, decoded.Snapshot)
	assert.Len(t, decoded.Snapshot.Reals, 2)
	assert.False(t, decoded.Terminal())
}

func TestMessage_DecodeRejectsMalformed(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"type":"ee-snapshot","id":"1","source":"/ensemble/e"}`))
	require.Error(t, err)

	_, err = DecodeMessage([]byte(`{"type":"step-running","id":"1","source":"/ensemble/e"}`))
	require.Error(t, err)

	m, err := DecodeMessage([]byte(`{"type":"ee-terminated","id":"1","source":"/ensemble/e"}`))
	require.NoError(t, err)
	assert.True(t, m.Terminal())
}

func TestRequest_Decode(t *testing.T) {
	raw, err := json.Marshal(NewRequest(event.UserCancel))
	require.NoError(t, err)

	req, err := DecodeRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, event.UserCancel, req.Kind)
	assert.NotEmpty(t, req.ID)

	_, err = DecodeRequest([]byte(`{"type":"ee-snapshot","id":"x"}`))
	require.Error(t, err)
}
