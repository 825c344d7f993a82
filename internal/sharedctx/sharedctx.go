// Package sharedctx provides the key-value store that performers use to pass
// data between tasks of one plan instance. Entries are addressed by the id of
// the task that produced them and a kind such as "output".
package sharedctx

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Iron-Ham/planrunner/internal/errors"
)

// KindOutput is the kind under which the executor stores a task's output.
const KindOutput = "output"

// ErrNotFound is returned by Get when no entry exists for a key.
var ErrNotFound = errors.ErrNotFound

// Key addresses one shared context entry.
type Key struct {
	Producer string `json:"producer"`
	Kind     string `json:"kind"`
}

func (k Key) String() string {
	return k.Producer + ":" + k.Kind
}

// Store is a shared context backend. Implementations must be safe for
// concurrent use because performers run in parallel.
type Store interface {
	// Get returns the value stored under (producer, kind) or an error
	// matching ErrNotFound.
	Get(ctx context.Context, producer, kind string) ([]byte, error)
	// Put stores value under (producer, kind), replacing any previous value.
	Put(ctx context.Context, producer, kind string, value []byte) error
	// Keys lists the stored keys ordered by producer then kind.
	Keys(ctx context.Context) ([]Key, error)
}

// validateKey rejects keys that cannot be stored unambiguously.
func validateKey(producer, kind string) error {
	if producer == "" {
		return errors.NewValidationError("producer is required").WithField("producer")
	}
	if kind == "" {
		return errors.NewValidationError("kind is required").WithField("kind")
	}
	if strings.Contains(kind, ":") {
		return errors.NewValidationError("kind must not contain ':'").WithField("kind").WithValue(kind)
	}
	return nil
}

func notFound(producer, kind string) error {
	return errors.NewNotFoundError("shared context entry", Key{Producer: producer, Kind: kind}.String())
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Producer != keys[j].Producer {
			return keys[i].Producer < keys[j].Producer
		}
		return keys[i].Kind < keys[j].Kind
	})
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.RWMutex
	entries map[Key][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[Key][]byte)}
}

// Get returns a copy of the stored value.
func (m *Memory) Get(ctx context.Context, producer, kind string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.entries[Key{Producer: producer, Kind: kind}]
	if !ok {
		return nil, notFound(producer, kind)
	}
	return append([]byte(nil), v...), nil
}

// Put stores a copy of value.
func (m *Memory) Put(ctx context.Context, producer, kind string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(producer, kind); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[Key{Producer: producer, Kind: kind}] = append([]byte(nil), value...)
	return nil
}

// Keys lists the stored keys.
func (m *Memory) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	keys := make([]Key, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.RUnlock()

	sortKeys(keys)
	return keys, nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func describe(k Key, err error) error {
	return fmt.Errorf("shared context %s: %w", k, err)
}
