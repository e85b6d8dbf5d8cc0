package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeConn struct {
	id    uint64
	lines []string
}

func (f *fakeConn) ID() uint64 { return f.id }

func (f *fakeConn) WriteLine(line string) error {
	f.lines = append(f.lines, line)
	return nil
}

func TestRegisterLookupUnregister(t *testing.T) {
	r := New()
	conn := &fakeConn{id: 1}

	_, ok := r.Lookup(42)
	assert.False(t, ok)

	r.Register(42, conn)
	got, ok := r.Lookup(42)
	assert.True(t, ok)
	assert.Equal(t, conn, got)
	assert.Equal(t, 1, r.Len())

	r.Unregister(conn.ID())
	_, ok = r.Lookup(42)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestLastLoginWins(t *testing.T) {
	r := New()
	first := &fakeConn{id: 1}
	second := &fakeConn{id: 2}

	r.Register(42, first)
	r.Register(42, second)

	got, ok := r.Lookup(42)
	assert.True(t, ok)
	assert.Equal(t, second, got)

	// The orphaned first connection no longer holds an entry: its
	// disconnect must not evict the newer login.
	r.Unregister(first.ID())
	got, ok = r.Lookup(42)
	assert.True(t, ok)
	assert.Equal(t, second, got)

	r.Unregister(second.ID())
	_, ok = r.Lookup(42)
	assert.False(t, ok)
}

func TestUnregisterUnknownConnIsNoop(t *testing.T) {
	r := New()
	r.Register(42, &fakeConn{id: 1})

	r.Unregister(99)
	assert.Equal(t, 1, r.Len())
}

func TestConnectionSwitchingUsers(t *testing.T) {
	r := New()
	conn := &fakeConn{id: 1}

	r.Register(1, conn)
	r.Register(2, conn)

	_, ok := r.Lookup(1)
	assert.False(t, ok)
	got, ok := r.Lookup(2)
	assert.True(t, ok)
	assert.Equal(t, conn, got)
	assert.Equal(t, 1, r.Len())
}
