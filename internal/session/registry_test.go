package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeConn struct {
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func TestAttachDisplacesPrevious(t *testing.T) {
	reg := NewRegistry()
	first := &fakeConn{}
	second := &fakeConn{}

	prev := reg.Attach("passenger-1", first)
	assert.Nil(t, prev)

	prev = reg.Attach("passenger-1", second)
	assert.Equal(t, first, prev)

	cur, ok := reg.Lookup("passenger-1")
	assert.True(t, ok)
	assert.Equal(t, second, cur)
}

func TestDetachOnlyRemovesMatchingConn(t *testing.T) {
	reg := NewRegistry()
	first := &fakeConn{}
	second := &fakeConn{}

	reg.Attach("captain-1", first)
	reg.Attach("captain-1", second)

	// Stale detach from the displaced connection must not evict the
	// connection that replaced it.
	reg.Detach("captain-1", first)
	cur, ok := reg.Lookup("captain-1")
	assert.True(t, ok)
	assert.Equal(t, second, cur)

	reg.Detach("captain-1", second)
	_, ok = reg.Lookup("captain-1")
	assert.False(t, ok)
}

func TestOnlineAndCount(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.Online("nobody"))
	reg.Attach("a", &fakeConn{})
	reg.Attach("b", &fakeConn{})
	assert.Equal(t, 2, reg.Count())
	assert.True(t, reg.Online("a"))
}
