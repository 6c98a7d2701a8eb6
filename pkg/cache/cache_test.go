package cache

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestCache_GetSet(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	c := New(time.Minute, clock)

	_, ok := c.Get("a:1")
	require.False(t, ok)

	c.Set("a:1", 42)
	v, ok := c.Get("a:1")
	require.True(t, ok)
	require.Equal(t, 42, v)

	clock.Advance(time.Minute + time.Second)
	_, ok = c.Get("a:1")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestCache_Invalidate(t *testing.T) {
	t.Parallel()

	c := New(time.Minute, clockwork.NewFakeClock())
	c.Set("ds1:aaa", 1)
	c.Set("ds1:bbb", 2)
	c.Set("ds2:ccc", 3)

	c.Invalidate("ds1")
	require.Equal(t, 1, c.Len())
	_, ok := c.Get("ds2:ccc")
	require.True(t, ok)
}

func TestCache_Key(t *testing.T) {
	t.Parallel()

	type req struct {
		Dims    []string       `json:"dims"`
		Filters map[string]any `json:"filters"`
	}

	a := Key("ds", req{Dims: []string{"Region"}, Filters: map[string]any{"A": 1, "B": 2}})
	b := Key("ds", req{Dims: []string{"Region"}, Filters: map[string]any{"B": 2, "A": 1}})
	require.NotEmpty(t, a)
	// Map key order does not change the canonical form.
	require.Equal(t, a, b)

	c := Key("ds", req{Dims: []string{"City"}})
	require.NotEqual(t, a, c)
	require.NotEqual(t, a, Key("other", req{Dims: []string{"Region"}, Filters: map[string]any{"A": 1, "B": 2}}))
}
