package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLRUGetSet(t *testing.T) {
	c := NewLRU(4, time.Minute)

	_, _, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("a", []byte("alpha"), Meta{ETag: `"v1"`})
	value, meta, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("alpha"), value)
	assert.Equal(t, `"v1"`, meta.ETag)
}

func TestLRUOverwrite(t *testing.T) {
	c := NewLRU(4, time.Minute)

	c.Set("a", []byte("one"), Meta{})
	c.Set("a", []byte("two"), Meta{LastModified: "yesterday"})

	value, meta, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("two"), value)
	assert.Equal(t, "yesterday", meta.LastModified)
	assert.Equal(t, 1, c.Len())
}

func TestLRUEviction(t *testing.T) {
	c := NewLRU(3, time.Minute)

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte{byte(i)}, Meta{})
	}

	// Touch k0 so k1 becomes the least recently used entry.
	_, _, ok := c.Get("k0")
	assert.True(t, ok)

	c.Set("k3", []byte{3}, Meta{})

	_, _, ok = c.Get("k1")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, _, ok = c.Get("k0")
	assert.True(t, ok)
	_, _, ok = c.Get("k3")
	assert.True(t, ok)
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRU(4, time.Minute)

	current := time.Now()
	c.now = func() time.Time { return current }

	c.Set("a", []byte("alpha"), Meta{})

	current = current.Add(2 * time.Minute)

	_, _, ok := c.Get("a")
	assert.False(t, ok, "expired entry should not be returned")
	assert.Equal(t, 0, c.Len(), "expired entry should be dropped on read")
}

func TestLRUIgnoresEmptyKeyAndNilValue(t *testing.T) {
	c := NewLRU(4, time.Minute)

	c.Set("", []byte("x"), Meta{})
	c.Set("a", nil, Meta{})

	assert.Equal(t, 0, c.Len())
}
