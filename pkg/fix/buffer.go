package fix

// DefaultBufferSize is the number of fixes kept for mode and resampling decisions.
const DefaultBufferSize = 300

// Buffer is a fixed-capacity ring of accepted fixes addressed by a
// monotonically increasing index. Only the last Cap() indices are retained.
type Buffer struct {
	slots []RawFix
	next  int // index the next Push will receive
}

// NewBuffer creates a ring with room for size fixes.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{slots: make([]RawFix, size)}
}

// Cap returns the ring capacity.
func (b *Buffer) Cap() int { return len(b.slots) }

// Count returns the number of fixes ever pushed.
func (b *Buffer) Count() int { return b.next }

// Idx returns the index of the most recent fix, or -1 when empty.
func (b *Buffer) Idx() int { return b.next - 1 }

// Oldest returns the lowest index still held in the ring.
func (b *Buffer) Oldest() int {
	if b.next <= len(b.slots) {
		return 0
	}
	return b.next - len(b.slots)
}

// Push stores f and returns its index.
func (b *Buffer) Push(f RawFix) int {
	idx := b.next
	b.slots[idx%len(b.slots)] = f
	b.next++
	return idx
}

// Has reports whether idx is still addressable.
func (b *Buffer) Has(idx int) bool {
	return idx >= b.Oldest() && idx < b.next
}

// At returns the fix stored at idx. The second result is false when idx
// has never been written or has been overwritten.
func (b *Buffer) At(idx int) (RawFix, bool) {
	if !b.Has(idx) {
		return RawFix{}, false
	}
	return b.slots[idx%len(b.slots)], true
}

// MustAt is At for callers that already checked Has.
func (b *Buffer) MustAt(idx int) RawFix {
	f, ok := b.At(idx)
	if !ok {
		panic("fix: buffer index out of range")
	}
	return f
}

// Last returns the most recent fix.
func (b *Buffer) Last() (RawFix, bool) {
	return b.At(b.next - 1)
}

// Snapshot copies the addressable contents, oldest first.
func (b *Buffer) Snapshot() []RawFix {
	out := make([]RawFix, 0, b.next-b.Oldest())
	for i := b.Oldest(); i < b.next; i++ {
		out = append(out, b.slots[i%len(b.slots)])
	}
	return out
}

// Reset forgets every stored fix.
func (b *Buffer) Reset() {
	clear(b.slots)
	b.next = 0
}
