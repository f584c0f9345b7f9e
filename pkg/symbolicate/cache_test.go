package symbolicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	c, err := NewCache(2)
	require.NoError(t, err)

	assert.True(t, c.Add(myAppUUID, 0x10, Outcome{Kind: Resolved, Function: "a"}))
	assert.True(t, c.Add(myAppUUID, 0x20, Outcome{Kind: UnresolvedNoSymbol}))
	assert.False(t, c.Add(myAppUUID, 0x30, Outcome{Kind: UnresolvedExternalToolFailure, Reason: ReasonTimeout}))
	assert.False(t, c.Add(myAppUUID, 0x40, Outcome{Kind: UnresolvedNoSymbol, MismatchedUUID: true}))
	assert.Equal(t, 2, c.Len())

	o, ok := c.Get(myAppUUID, 0x10)
	require.True(t, ok)
	assert.Equal(t, "a", o.Function)

	_, ok = c.Get(myAppUUID, 0x30)
	assert.False(t, ok)

	// bounded: the least recently used entry is evicted
	c.Add(myAppUUID, 0x50, Outcome{Kind: Resolved, Function: "e"})
	_, ok = c.Get(myAppUUID, 0x20)
	assert.False(t, ok)
}

func TestNilCache(t *testing.T) {
	var c *Cache
	_, ok := c.Get(myAppUUID, 0x10)
	assert.False(t, ok)
	assert.False(t, c.Add(myAppUUID, 0x10, Outcome{Kind: Resolved}))
	assert.Zero(t, c.Len())
}
