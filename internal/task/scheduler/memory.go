package scheduler

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// entryHeap orders entries by due time (earliest first).
type entryHeap []Entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return before(h[i], h[j]) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// MemoryBackend keeps pending entries in a priority queue. Nothing survives a
// process restart; use it for short-lived or non-critical scheduling.
type MemoryBackend struct {
	mu     sync.Mutex
	h      entryHeap
	seq    atomic.Uint64
	signal Signal
}

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Lister  = (*MemoryBackend)(nil)
)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Earliest(ctx context.Context) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	m.signal.Clear()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.h) == 0 {
		return Entry{}, false, nil
	}
	m.signal.Set()
	return m.h[0], true, nil
}

func (m *MemoryBackend) Insert(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if e.seq == 0 {
		e.seq = m.seq.Add(1)
	}
	m.mu.Lock()
	heap.Push(&m.h, e)
	m.mu.Unlock()
	m.signal.Set()
	return e, nil
}

func (m *MemoryBackend) Delete(ctx context.Context, e Entry) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.h {
		if same(m.h[i], e) {
			heap.Remove(&m.h, i)
			return nil
		}
	}
	return nil
}

func (m *MemoryBackend) Available() <-chan struct{} { return m.signal.Wait() }

// Len returns the number of pending entries.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.h)
}

func (m *MemoryBackend) List(ctx context.Context, f Filter) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	all := append([]Entry(nil), m.h...)
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return before(all[i], all[j]) })
	out := make([]Entry, 0, len(all))
	skipped := 0
	for _, e := range all {
		if !f.Match(e) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryBackend) Close() error { return nil }
