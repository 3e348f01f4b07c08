// Package arena implements the stable-id, refcount-guarded container
// described in spec.md §4.1: a growable table where each slot is
// tagged empty/live/pending-free and accessed through Get, which
// bumps a refcount that Release later drops. Remove only marks a slot
// pending-free; the slot is recycled once its last outstanding
// reference is released. This is what lets the scheduler inspect a
// task concurrently with kill_task racing a context switch.
//
// An ID is a generational index, {slot, gen}: the slot is the index-key
// spec.md §3 requires a live thread's tid (or process's pid) to equal,
// and the generation is bumped every time the slot is recycled by Add.
// Get, Remove, Live, and Unref all check the generation along with the
// slot, so a caller still holding an ID from before the slot was
// recycled cannot observe or mutate whatever now occupies it — this is
// the "removes the use-after-free hazard entirely" design spec.md §9
// calls for.
package arena

import "sync"

// ID is a stable reference into a Table: a slot index plus the
// generation stamped into that slot at the time of allocation.
type ID struct {
	Slot uint32
	Gen  uint32
}

// Pack encodes id as a single uint64 (generation in the high 32 bits),
// for contexts that need one flat integer key, such as a procfs path
// segment.
func (id ID) Pack() uint64 { return uint64(id.Gen)<<32 | uint64(id.Slot) }

// Unpack decodes a value produced by Pack back into an ID.
func Unpack(v uint64) ID { return ID{Slot: uint32(v), Gen: uint32(v >> 32)} }

type genState int

const (
	stateEmpty genState = iota
	stateLive
	statePendingFree
)

type slot[T any] struct {
	state genState
	gen   uint32
	refs  int32
	value T
}

// Table is a stable-id container of T, safe for concurrent use.
type Table[T any] struct {
	mu    sync.Mutex
	slots []slot[T]
	free  []uint32
}

// New returns an empty table.
func New[T any]() *Table[T] {
	return &Table[T]{}
}

// Add inserts value and returns its new stable ID with one reference
// held on behalf of the caller; release it with Unref or via a Ref
// from Get.
func (t *Table[T]) Add(value T) ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.slots = append(t.slots, slot[T]{})
		idx = uint32(len(t.slots) - 1)
	}

	s := &t.slots[idx]
	s.gen++
	s.state = stateLive
	s.refs = 1
	s.value = value
	return ID{Slot: idx, Gen: s.gen}
}

// Ref is a checked-out handle on a live element. Callers must call
// Release exactly once.
type Ref[T any] struct {
	t  *Table[T]
	id ID
}

// Get checks out a reference to id's element, incrementing its
// refcount. ok is false if id has been removed, never existed, or its
// slot has since been recycled under a new generation.
func (t *Table[T]) Get(id ID) (*Ref[T], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id.Slot) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[id.Slot]
	if s.state != stateLive || s.gen != id.Gen {
		return nil, false
	}
	s.refs++
	return &Ref[T]{t: t, id: id}, true
}

// Value returns a pointer to the checked-out element. The pointer is
// only valid until Release.
func (r *Ref[T]) Value() *T {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()
	return &r.t.slots[r.id.Slot].value
}

// ID returns the stable id this reference was checked out under.
func (r *Ref[T]) ID() ID { return r.id }

// Release drops the reference acquired by Get or Add, reclaiming the
// slot if it is pending-free and this was the last outstanding ref.
func (r *Ref[T]) Release() {
	t := r.t
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.slots[r.id.Slot]
	if s.gen != r.id.Gen {
		return // already recycled under our feet; nothing to release
	}
	s.refs--
	t.reclaimLocked(r.id.Slot)
}

// Unref drops one reference by ID directly, for callers (like Add's
// initial reference) that never materialized a *Ref. A stale
// generation is a silent no-op, same as Release.
func (t *Table[T]) Unref(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id.Slot) >= len(t.slots) {
		return
	}
	s := &t.slots[id.Slot]
	if s.gen != id.Gen {
		return
	}
	s.refs--
	t.reclaimLocked(id.Slot)
}

// Remove marks id pending-free. The slot is recycled once the last
// outstanding reference releases; Get on id fails immediately, even
// while references are still outstanding. A stale generation (the slot
// was already recycled for something else) reports false rather than
// touching the new occupant.
func (t *Table[T]) Remove(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id.Slot) >= len(t.slots) {
		return false
	}
	s := &t.slots[id.Slot]
	if s.state != stateLive || s.gen != id.Gen {
		return false
	}
	s.state = statePendingFree
	t.reclaimLocked(id.Slot)
	return true
}

func (t *Table[T]) reclaimLocked(idx uint32) {
	s := &t.slots[idx]
	if s.state == statePendingFree && s.refs <= 0 {
		var zero T
		s.value = zero
		s.state = stateEmpty
		t.free = append(t.free, idx)
	}
}

// Live reports whether id currently names a live element at its
// generation, without taking a reference.
func (t *Table[T]) Live(id ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(id.Slot) >= len(t.slots) {
		return false
	}
	s := &t.slots[id.Slot]
	return s.state == stateLive && s.gen == id.Gen
}

// Each calls fn for every currently live element, taking and
// releasing a reference around each call. fn returning false stops
// iteration early.
func (t *Table[T]) Each(fn func(ID, *T) bool) {
	t.mu.Lock()
	ids := make([]ID, 0, len(t.slots))
	for i := range t.slots {
		if t.slots[i].state == stateLive {
			ids = append(ids, ID{Slot: uint32(i), Gen: t.slots[i].gen})
		}
	}
	t.mu.Unlock()

	for _, id := range ids {
		ref, ok := t.Get(id)
		if !ok {
			continue
		}
		cont := fn(id, ref.Value())
		ref.Release()
		if !cont {
			return
		}
	}
}

// LiveCount returns the number of currently live elements.
func (t *Table[T]) LiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.slots {
		if t.slots[i].state == stateLive {
			n++
		}
	}
	return n
}

// Len returns the number of slots ever allocated (including recycled
// ones), used by the scheduler's round-robin picker to compute the
// scan modulus.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// At returns a reference to whatever is live at raw slot index idx,
// regardless of generation, used only by the round-robin picker which
// needs to scan by position rather than by a known ID. ok is false if
// the slot isn't live.
func (t *Table[T]) At(idx int) (*Ref[T], bool) {
	if idx < 0 {
		return nil, false
	}
	t.mu.Lock()
	if idx >= len(t.slots) {
		t.mu.Unlock()
		return nil, false
	}
	s := &t.slots[idx]
	if s.state != stateLive {
		t.mu.Unlock()
		return nil, false
	}
	s.refs++
	id := ID{Slot: uint32(idx), Gen: s.gen}
	t.mu.Unlock()
	return &Ref[T]{t: t, id: id}, true
}
