package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveBatch(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case events := <-d.Output():
		return events
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_SingleEvent_PassesThrough(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(20*time.Millisecond, nil)
	defer d.Stop()

	// When: one event is added
	d.Add(FileEvent{Path: "/docs/a.pdf", Operation: OpCreate, Timestamp: time.Now()})

	// Then: it is emitted after the window
	events := receiveBatch(t, d)
	require.Len(t, events, 1)
	assert.Equal(t, "/docs/a.pdf", events[0].Path)
	assert.Equal(t, OpCreate, events[0].Operation)
}

func TestDebouncer_Coalesce(t *testing.T) {
	tests := []struct {
		name  string
		ops   []Operation
		want  Operation
		empty bool
	}{
		{"create then modify stays create", []Operation{OpCreate, OpModify, OpModify}, OpCreate, false},
		{"create then delete cancels", []Operation{OpCreate, OpDelete}, 0, true},
		{"modify then delete is delete", []Operation{OpModify, OpDelete}, OpDelete, false},
		{"delete then create is modify", []Operation{OpDelete, OpCreate}, OpModify, false},
		{"replaced then written is modify", []Operation{OpDelete, OpCreate, OpModify}, OpModify, false},
		{"modify twice is modify", []Operation{OpModify, OpModify}, OpModify, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(time.Hour, nil)
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "/docs/a.pdf", Operation: op})
			}
			d.flush()

			if tt.empty {
				assert.Zero(t, d.Pending())
				assert.Empty(t, d.Output())
				return
			}
			events := receiveBatch(t, d)
			require.Len(t, events, 1)
			assert.Equal(t, tt.want, events[0].Operation)
		})
	}
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(time.Hour, nil)
	defer d.Stop()

	for _, p := range []string{"/docs/c.pdf", "/docs/a.pdf", "/docs/b.pdf"} {
		d.Add(FileEvent{Path: p, Operation: OpModify})
	}
	d.flush()

	events := receiveBatch(t, d)
	require.Len(t, events, 3)
	assert.Equal(t, "/docs/a.pdf", events[0].Path)
	assert.Equal(t, "/docs/b.pdf", events[1].Path)
	assert.Equal(t, "/docs/c.pdf", events[2].Path)
}

func TestDebouncer_NewEventRestartsWindow(t *testing.T) {
	// Given: a 200ms window
	d := NewDebouncer(200*time.Millisecond, nil)
	defer d.Stop()

	// When: writes keep arriving inside the window
	for i := 0; i < 4; i++ {
		d.Add(FileEvent{Path: "/docs/a.pdf", Operation: OpModify})
		time.Sleep(20 * time.Millisecond)
	}

	// Then: nothing has been emitted yet, and one batch follows the quiet period
	assert.Empty(t, d.Output())
	events := receiveBatch(t, d)
	assert.Len(t, events, 1)
}

func TestDebouncer_Stop(t *testing.T) {
	d := NewDebouncer(time.Hour, nil)
	d.Add(FileEvent{Path: "/docs/a.pdf", Operation: OpCreate})

	d.Stop()
	d.Stop()

	// Adds after Stop are ignored and the output is closed.
	d.Add(FileEvent{Path: "/docs/b.pdf", Operation: OpCreate})
	_, ok := <-d.Output()
	assert.False(t, ok)
}
