package history

// Buffer is a fixed-capacity ring of raw readings for one channel.
// Values are reported newest-first. validCount saturates at capacity and only
// gates settledness; Reset does not clear stored samples.
type Buffer struct {
	samples    []uint16
	nextIndex  int
	validCount int
}

// New returns an empty buffer. A capacity below 1 is treated as 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{samples: make([]uint16, capacity)}
}

// Push stores raw as the newest sample, evicting the oldest once full.
func (b *Buffer) Push(raw uint16) {
	b.samples[b.nextIndex] = raw
	b.nextIndex++
	if b.nextIndex >= len(b.samples) {
		b.nextIndex = 0
	}
	if b.validCount < len(b.samples) {
		b.validCount++
	}
}

func (b *Buffer) Capacity() int   { return len(b.samples) }
func (b *Buffer) ValidCount() int { return b.validCount }

// Settled reports whether enough fresh samples have accumulated for a decision.
func (b *Buffer) Settled() bool {
	return b.validCount >= len(b.samples)
}

// Average returns the mean of the buffer. ok is false until the buffer is settled.
func (b *Buffer) Average() (avg float64, ok bool) {
	if !b.Settled() {
		return 0, false
	}
	var sum float64
	for _, v := range b.samples {
		sum += float64(v)
	}
	return sum / float64(len(b.samples)), true
}

// Reset starts a new settling period.
func (b *Buffer) Reset() {
	b.validCount = 0
}

// Values returns every slot newest-first, including slots not yet counted as valid.
func (b *Buffer) Values() []uint16 {
	n := len(b.samples)
	out := make([]uint16, n)
	idx := b.nextIndex
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = n - 1
		}
		out[i] = b.samples[idx]
	}
	return out
}

// Clone returns an independent copy.
func (b *Buffer) Clone() *Buffer {
	samples := make([]uint16, len(b.samples))
	copy(samples, b.samples)
	return &Buffer{samples: samples, nextIndex: b.nextIndex, validCount: b.validCount}
}
