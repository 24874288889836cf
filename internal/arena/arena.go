// Package arena provides lifetime-scoped region allocation for decoded CWMP
// values and per-session scratch buffers.
package arena

import (
	"errors"
	"fmt"
	"sync/atomic"
)

const chunkSize = 16 * 1024

var (
	// ErrOutOfMemory is returned when an allocation would exceed the limit.
	ErrOutOfMemory = errors.New("arena: out of memory")
	// ErrFreed is returned when allocating from a released arena.
	ErrFreed = errors.New("arena: use after free")
)

var liveBytes atomic.Int64

// LiveBytes returns the number of bytes held by all arenas not yet freed.
func LiveBytes() int64 {
	return liveBytes.Load()
}

// Arena is an append-only allocator. Everything allocated or held in it is
// released together. It is not safe for concurrent use.
type Arena struct {
	owner string
	limit int

	chunks [][]byte
	off    int
	used   int
	held   []any

	users int
	freed bool
}

// New creates an arena with one user. A limit of zero means unbounded.
func New(owner string, limit int) *Arena {
	return &Arena{owner: owner, limit: limit, users: 1}
}

// Owner returns the label given at creation.
func (a *Arena) Owner() string {
	return a.owner
}

// Used returns the number of bytes accounted to the arena.
func (a *Arena) Used() int {
	return a.used
}

// Users returns the current user count.
func (a *Arena) Users() int {
	return a.users
}

// Freed reports whether the arena has been released.
func (a *Arena) Freed() bool {
	return a.freed
}

func (a *Arena) reserve(n int) error {
	if a.freed {
		return ErrFreed
	}
	if n < 0 {
		return fmt.Errorf("arena %s: negative size %d", a.owner, n)
	}
	if a.limit > 0 && a.used+n > a.limit {
		return fmt.Errorf("arena %s: %d bytes requested, %d of %d used: %w",
			a.owner, n, a.used, a.limit, ErrOutOfMemory)
	}
	return nil
}

// Alloc returns a zeroed slice of n bytes carved from the arena.
func (a *Arena) Alloc(n int) ([]byte, error) {
	if err := a.reserve(n); err != nil {
		return nil, err
	}

	var buf []byte
	switch {
	case n > chunkSize:
		buf = make([]byte, n)
		a.chunks = append(a.chunks, buf)
	default:
		if len(a.chunks) == 0 || a.off+n > chunkSize || len(a.chunks[len(a.chunks)-1]) != chunkSize {
			a.chunks = append(a.chunks, make([]byte, chunkSize))
			a.off = 0
		}
		last := a.chunks[len(a.chunks)-1]
		buf = last[a.off : a.off+n : a.off+n]
		a.off += n
	}

	a.used += n
	liveBytes.Add(int64(n))
	return buf, nil
}

// Copy allocates len(b) bytes and copies b into them.
func (a *Arena) Copy(b []byte) ([]byte, error) {
	buf, err := a.Alloc(len(b))
	if err != nil {
		return nil, err
	}
	copy(buf, b)
	return buf, nil
}

// Hold ties the lifetime of v to the arena and accounts size bytes for it.
func (a *Arena) Hold(v any, size int) error {
	if err := a.reserve(size); err != nil {
		return err
	}
	a.held = append(a.held, v)
	a.used += size
	liveBytes.Add(int64(size))
	return nil
}

// Acquire registers an additional user.
func (a *Arena) Acquire() {
	if !a.freed {
		a.users++
	}
}

// Release drops one user and frees the arena when none remain.
// It reports whether the arena was freed by this call.
func (a *Arena) Release() bool {
	if a.freed {
		return false
	}
	a.users--
	if a.users > 0 {
		return false
	}
	a.Free()
	return true
}

// Free releases everything regardless of the user count. Calling it more
// than once is harmless.
func (a *Arena) Free() {
	if a.freed {
		return
	}
	liveBytes.Add(-int64(a.used))
	a.chunks = nil
	a.held = nil
	a.used = 0
	a.off = 0
	a.users = 0
	a.freed = true
}
