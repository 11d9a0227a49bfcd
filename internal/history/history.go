// Package history keeps a bounded window of recent values per metric for the
// dashboard's trend graphs. Nothing here is persisted.
package history

import (
	"github.com/rakerig/rakelog/internal/reading"
)

// DefaultCapacity is two minutes at 1 Hz.
const DefaultCapacity = 120

// Tracked lists the metrics pushed from every reading.
var Tracked = []string{reading.Temperature, reading.Humidity, reading.Pressure}

// ring is a fixed-capacity FIFO. Appends evict the oldest value when full.
type ring struct {
	buf   []float64
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]float64, capacity)}
}

func (r *ring) push(v float64) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) values() []float64 {
	out := make([]float64, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Buffer holds one ring per metric. It is owned by the sampling loop and is
// not safe for concurrent use.
type Buffer struct {
	capacity int
	rings    map[string]*ring
}

// Snapshot maps metric name to values, oldest first.
type Snapshot map[string][]float64

// New creates a Buffer with the given per-metric capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{capacity: capacity, rings: make(map[string]*ring)}
	for _, m := range Tracked {
		b.rings[m] = newRing(capacity)
	}
	return b
}

// Capacity returns the per-metric capacity.
func (b *Buffer) Capacity() int { return b.capacity }

// Append adds a value for metric, creating its ring on first use.
func (b *Buffer) Append(metric string, v float64) {
	r, ok := b.rings[metric]
	if !ok {
		r = newRing(b.capacity)
		b.rings[metric] = r
	}
	r.push(v)
}

// Push appends every tracked metric present in r. Absent metrics are
// skipped, not padded, so series are independent: after a gap the i-th value
// of one metric need not come from the same reading as the i-th value of
// another, and series can differ in length. Graphs plot each series on its
// own sample axis.
func (b *Buffer) Push(r reading.Reading) {
	for _, m := range Tracked {
		if v, ok := r.Metric(m).Get(); ok {
			b.Append(m, v)
		}
	}
}

// Len returns the number of values held for metric.
func (b *Buffer) Len(metric string) int {
	if r, ok := b.rings[metric]; ok {
		return r.n
	}
	return 0
}

// Snapshot copies the current contents.
func (b *Buffer) Snapshot() Snapshot {
	s := make(Snapshot, len(b.rings))
	for m, r := range b.rings {
		s[m] = r.values()
	}
	return s
}
