package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitSetsLevel(t *testing.T) {
	tests := []struct {
		level string
	}{
		{"debug"},
		{"info"},
		{"warn"},
		{"error"},
		{"bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			err := Init(tt.level, "")
			require.NoError(t, err)
			assert.NotNil(t, Log)
		})
	}
}

func TestNamedBeforeInit(t *testing.T) {
	Log = nil
	assert.NotPanics(t, func() {
		Named("poller").Info("noop")
	})
}
