package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryLog is an in-process Log. Safe for concurrent use.
type MemoryLog struct {
	mu         sync.RWMutex
	entries    []Entry
	ids        map[string]bool
	byInstance map[string][]int
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		ids:        make(map[string]bool),
		byInstance: make(map[string][]int),
	}
}

func (l *MemoryLog) Append(ctx context.Context, e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ids[e.ID] {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, e.ID)
	}
	last := int64(len(l.byInstance[e.InstanceID]))
	if e.Sequence != last+1 {
		return fmt.Errorf("%w: instance %s at %d, got %d", ErrSequenceGap, e.InstanceID, last, e.Sequence)
	}

	l.ids[e.ID] = true
	l.byInstance[e.InstanceID] = append(l.byInstance[e.InstanceID], len(l.entries))
	l.entries = append(l.entries, e)
	return nil
}

func (l *MemoryLog) ForInstance(ctx context.Context, instanceID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := l.byInstance[instanceID]
	out := make([]Entry, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.entries[i])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (l *MemoryLog) Query(ctx context.Context, f Filter) ([]Entry, error) {
	l.mu.RLock()
	var out []Entry
	for _, e := range l.entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	l.mu.RUnlock()

	Sort(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Len returns the number of entries.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
