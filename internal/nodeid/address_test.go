// internal/nodeid/address_test.go
package nodeid

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddress_String(t *testing.T) {
	testCases := []struct {
		name        string
		addr        Address
		expectedStr string
	}{
		{
			name:        "ensemble only",
			addr:        ForEnsemble("ee-0"),
			expectedStr: "/ensemble/ee-0",
		},
		{
			name:        "step",
			addr:        ForStep("ee-0", 3, 0),
			expectedStr: "/ensemble/ee-0/real/3/step/0",
		},
		{
			name:        "job",
			addr:        ForJob("ee-0", 12, 1, 4),
			expectedStr: "/ensemble/ee-0/real/12/step/1/job/4",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expectedStr, tc.addr.String())
		})
	}
}

func TestAddress_RoundTrip(t *testing.T) {
	testIDs := []string{
		"/ensemble/a",
		"/ensemble/ee-1/real/0",
		"/ensemble/ee-1/real/5/step/2/job/15",
	}

	for _, id := range testIDs {
		t.Run(id, func(t *testing.T) {
			addr, err := Parse(id)
			require.NoError(t, err)

			roundTripID := addr.String()
			assert.Equal(t, id, roundTripID)

			roundTripAddr, err := Parse(roundTripID)
			require.NoError(t, err)
			assert.True(t, addr.Equal(roundTripAddr))
		})
	}
}

func TestAddress_LevelAndTruncate(t *testing.T) {
	addr := ForJob("ee", 1, 2, 3)
	assert.Equal(t, LevelJob, addr.Level())

	step := addr.Truncate(LevelStep)
	assert.Equal(t, LevelStep, step.Level())
	assert.Equal(t, ForStep("ee", 1, 2), step)

	assert.Equal(t, ForEnsemble("ee"), addr.Truncate(LevelEnsemble))
	// Truncating to a deeper level leaves a shallow address untouched.
	assert.Equal(t, ForRealization("ee", 1), ForRealization("ee", 1).Truncate(LevelJob))
}

func TestAddress_JSON(t *testing.T) {
	type envelope struct {
		Source Address `json:"source"`
	}

	raw, err := json.Marshal(envelope{Source: ForStep("ee-0", 1, 0)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"/ensemble/ee-0/real/1/step/0"}`, string(raw))

	var decoded envelope
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, ForStep("ee-0", 1, 0), decoded.Source)

	err = json.Unmarshal([]byte(`{"source":"ensemble/x"}`), &decoded)
	require.Error(t, err)
}
