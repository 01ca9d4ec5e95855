// internal/nodeid/parser_test.go
package nodeid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name         string
		raw          string
		expectErr    bool
		expectedAddr Address
	}{
		{
			name:         "ensemble",
			raw:          "/ensemble/ee-0",
			expectedAddr: ForEnsemble("ee-0"),
		},
		{
			name:         "realization",
			raw:          "/ensemble/ee-0/real/7",
			expectedAddr: ForRealization("ee-0", 7),
		},
		{
			name:         "full job path",
			raw:          "/ensemble/ee_0.a/real/0/step/1/job/15",
			expectedAddr: ForJob("ee_0.a", 0, 1, 15),
		},
		{
			name:      "error - empty string",
			raw:       "",
			expectErr: true,
		},
		{
			name:      "error - missing leading slash",
			raw:       "ensemble/ee-0",
			expectErr: true,
		},
		{
			name:      "error - unpaired segment",
			raw:       "/ensemble/ee-0/real",
			expectErr: true,
		},
		{
			name:      "error - wrong keyword order",
			raw:       "/ensemble/ee-0/step/0",
			expectErr: true,
		},
		{
			name:      "error - non numeric index",
			raw:       "/ensemble/ee-0/real/x",
			expectErr: true,
		},
		{
			name:      "error - negative index",
			raw:       "/ensemble/ee-0/real/-1",
			expectErr: true,
		},
		{
			name:      "error - empty segment",
			raw:       "/ensemble//real/0",
			expectErr: true,
		},
		{
			name:      "error - invalid ensemble id",
			raw:       "/ensemble/../real/0",
			expectErr: true,
		},
		{
			name:      "error - deeper than job",
			raw:       "/ensemble/e/real/0/step/0/job/0/extra/1",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := Parse(tc.raw)

			if tc.expectErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.True(t, tc.expectedAddr.Equal(addr), "Parsed address does not match expected address")
		})
	}
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope") })
	assert.NotPanics(t, func() { MustParse("/ensemble/ok") })
}
