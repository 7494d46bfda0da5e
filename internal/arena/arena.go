// Package arena provides a slot arena addressed by generational ids.
//
// An ID is (index, generation). Removing a value bumps the slot generation, so
// an ID held by a stale snapshot can never resolve to a value inserted later
// into the same slot. The arena is not safe for concurrent use; owners guard
// it with their own lock.
package arena

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidID is returned by ParseID for malformed ids.
var ErrInvalidID = errors.New("arena: invalid id")

// ID addresses one arena slot at one generation. The zero ID is never issued.
type ID struct {
	Index      uint32
	Generation uint32
}

// String renders the id as "index.generation".
func (id ID) String() string {
	return strconv.FormatUint(uint64(id.Index), 10) + "." + strconv.FormatUint(uint64(id.Generation), 10)
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id.Generation == 0
}

// MarshalText implements encoding.TextMarshaler so ids travel as strings.
// The zero id marshals as "".
func (id ID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return []byte{}, nil
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*id = ID{}
		return nil
	}
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses an id produced by ID.String.
func ParseID(s string) (ID, error) {
	idxS, genS, ok := strings.Cut(s, ".")
	if !ok {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	idx, err := strconv.ParseUint(idxS, 10, 32)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	gen, err := strconv.ParseUint(genS, 10, 32)
	if err != nil || gen == 0 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID{Index: uint32(idx), Generation: uint32(gen)}, nil
}

type slot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Arena stores values of T in reusable slots.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	count int
}

// New creates an empty arena.
func New[T any]() *Arena[T] {
	return &Arena[T]{}
}

// Insert stores v and returns its id.
func (a *Arena[T]) Insert(v T) ID {
	a.count++
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		s := &a.slots[idx]
		s.value = v
		s.occupied = true
		return ID{Index: idx, Generation: s.generation}
	}
	a.slots = append(a.slots, slot[T]{value: v, generation: 1, occupied: true})
	return ID{Index: uint32(len(a.slots) - 1), Generation: 1}
}

// Get returns the value for id, or false if the id is stale or unknown.
func (a *Arena[T]) Get(id ID) (T, bool) {
	s, ok := a.lookup(id)
	if !ok {
		var zero T
		return zero, false
	}
	return s.value, true
}

// Set replaces the value for a live id.
func (a *Arena[T]) Set(id ID, v T) bool {
	s, ok := a.lookup(id)
	if !ok {
		return false
	}
	s.value = v
	return true
}

// Remove frees the slot of a live id. The slot generation is bumped so id
// becomes stale.
func (a *Arena[T]) Remove(id ID) bool {
	s, ok := a.lookup(id)
	if !ok {
		return false
	}
	var zero T
	s.value = zero
	s.occupied = false
	s.generation++
	a.free = append(a.free, id.Index)
	a.count--
	return true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	return a.count
}

// Range calls fn for every live value in slot order until fn returns false.
func (a *Arena[T]) Range(fn func(ID, T) bool) {
	for i := range a.slots {
		s := &a.slots[i]
		if !s.occupied {
			continue
		}
		if !fn(ID{Index: uint32(i), Generation: s.generation}, s.value) {
			return
		}
	}
}

func (a *Arena[T]) lookup(id ID) (*slot[T], bool) {
	if int(id.Index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[id.Index]
	if !s.occupied || s.generation != id.Generation {
		return nil, false
	}
	return s, true
}
