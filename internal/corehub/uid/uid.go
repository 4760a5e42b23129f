// Package uid allocates durable, monotonically increasing identifiers
// partitioned by kind ("img", "vid", "obj", "fbx", "refer"). Counters are
// persisted to a single JSON state file before an allocation is handed
// back to a caller, so a crash immediately after next() never produces a
// UID the next process start could also produce.
package uid

import (
	"fmt"
	"os"
	"sync"

	"github.com/scenehub/corehub/internal/platform/atomicfile"
	"github.com/scenehub/corehub/internal/platform/logger"
)

// Kind is a closed set of UID namespaces.
type Kind string

const (
	KindImage    Kind = "img"
	KindVideo    Kind = "vid"
	KindObject3D Kind = "obj"
	KindFBX      Kind = "fbx"
	KindRefer    Kind = "refer"
)

const minPad = 3

type state struct {
	Counters map[Kind]int `json:"counters"`
}

// Allocator hands out durable, monotonic UIDs for a fixed set of kinds.
type Allocator struct {
	log      *logger.Logger
	path     string
	mu       sync.Mutex
	counters map[Kind]int
}

// New loads (or initializes) the counter state file at path.
func New(log *logger.Logger, path string) (*Allocator, error) {
	a := &Allocator{log: log, path: path, counters: map[Kind]int{}}
	var s state
	if err := atomicfile.ReadJSON(path, &s); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load uid state %s: %w", path, err)
		}
		s.Counters = map[Kind]int{}
		if err := atomicfile.WriteJSON(path, s); err != nil {
			return nil, fmt.Errorf("init uid state %s: %w", path, err)
		}
	}
	if s.Counters == nil {
		s.Counters = map[Kind]int{}
	}
	a.counters = s.Counters
	return a, nil
}

// Next allocates and persists the next UID for kind.
func (a *Allocator) Next(kind Kind) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.counters[kind] + 1
	snapshot := cloneCounters(a.counters)
	snapshot[kind] = next

	if err := atomicfile.WriteJSON(a.path, state{Counters: snapshot}); err != nil {
		return "", fmt.Errorf("persist uid counter for %s: %w", kind, err)
	}
	a.counters[kind] = next
	return format(kind, next), nil
}

// Current returns the counter for kind without incrementing it.
func (a *Allocator) Current(kind Kind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters[kind]
}

// Rollback decrements the counter for kind by one. Only safe immediately
// after an allocation whose UID was never published to the Registry; callers
// are responsible for that invariant, mirroring the asset pipeline's
// allocate-then-maybe-fail flow for fbx_* UIDs.
func (a *Allocator) Rollback(kind Kind) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.counters[kind]
	if cur <= 0 {
		return nil
	}
	snapshot := cloneCounters(a.counters)
	snapshot[kind] = cur - 1
	if err := atomicfile.WriteJSON(a.path, state{Counters: snapshot}); err != nil {
		return fmt.Errorf("persist uid rollback for %s: %w", kind, err)
	}
	a.counters[kind] = cur - 1
	return nil
}

func cloneCounters(in map[Kind]int) map[Kind]int {
	out := make(map[Kind]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func format(kind Kind, n int) string {
	return fmt.Sprintf("%s_%0*d", kind, minPad, n)
}
