package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		want string
	}{
		{"create", OpCreate, "CREATE"},
		{"modify", OpModify, "MODIFY"},
		{"delete", OpDelete, "DELETE"},
		{"unknown", Operation(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	// Given: zero options
	opts := Options{}.WithDefaults()

	// Then: defaults are filled in and the filter selects PDFs
	assert.Equal(t, 500*time.Millisecond, opts.DebounceWindow)
	assert.Equal(t, 5*time.Second, opts.PollInterval)
	assert.Equal(t, 100, opts.EventBufferSize)
	assert.NotNil(t, opts.Logger)
	assert.True(t, opts.Filter("/docs/COLREGS.PDF"))
	assert.False(t, opts.Filter("/docs/notes.txt"))
}

func TestOptions_WithDefaults_KeepsValues(t *testing.T) {
	opts := Options{DebounceWindow: time.Second, PollInterval: time.Minute, EventBufferSize: 3}.WithDefaults()

	assert.Equal(t, time.Second, opts.DebounceWindow)
	assert.Equal(t, time.Minute, opts.PollInterval)
	assert.Equal(t, 3, opts.EventBufferSize)
}
