package store

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"

	"parley/pkg/api"
)

func handle(id int) api.MessageHandle {
	return api.MessageHandle{ChannelID: "web", ChatID: "c", MessageID: strconv.Itoa(id)}
}

func TestResolveEmptyWindow(t *testing.T) {
	w := NewWindow(10)
	_, ok := w.Resolve("t1", 0)
	assert.False(t, ok)
	_, ok = w.Resolve("t1", -1)
	assert.False(t, ok)
}

func TestResolveIndices(t *testing.T) {
	w := NewWindow(10)
	for i := 0; i < 3; i++ {
		w.Record("t1", handle(i))
	}

	tests := []struct {
		index  int
		wantID string
		wantOK bool
	}{
		{0, "0", true},
		{2, "2", true},
		{-1, "2", true},
		{-3, "0", true},
		{3, "", false},
		{-4, "", false},
	}
	for _, tc := range tests {
		t.Run(strconv.Itoa(tc.index), func(t *testing.T) {
			h, ok := w.Resolve("t1", tc.index)
			assert.Equal(t, tc.wantOK, ok)
			if ok {
				assert.Equal(t, tc.wantID, h.MessageID)
			}
		})
	}
}

func TestWindowEviction(t *testing.T) {
	w := NewWindow(2)
	for i := 0; i < 5; i++ {
		w.Record("t1", handle(i))
	}

	h, ok := w.Resolve("t1", 0)
	assert.True(t, ok)
	assert.Equal(t, "3", h.MessageID)

	latest, ok := w.Latest("t1")
	assert.True(t, ok)
	assert.Equal(t, "4", latest.MessageID)
}

func TestThreadsAreIsolated(t *testing.T) {
	w := NewWindow(10)
	w.Record("t1", handle(1))

	_, ok := w.Resolve("t2", -1)
	assert.False(t, ok)
}
