package mem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warriorguo/taskgraph/store"
)

var (
	_ store.Store = &memStore{}
)

func NewMemStore() store.Store {
	return &memStore{
		m: make(map[string][]byte),
		// setup no error as default
		faultHandler: defaultNoErr,
	}
}

// NewMemStoreWithFaultHandler injects a store fault on every operation,
// used by tests that exercise error paths.
func NewMemStoreWithFaultHandler(faultHandler func() error) store.Store {
	return &memStore{
		m:            make(map[string][]byte),
		faultHandler: faultHandler,
	}
}

func defaultNoErr() error {
	return nil
}

/**
 * memStore keeps everything in process memory. It exists for debugging and
 * testing; NEVER use it in production.
 */
type memStore struct {
	mu sync.Mutex

	faultHandler func() error

	m map[string][]byte
}

func (m *memStore) String() string {
	s := "\n----------\n"
	for key, value := range m.m {
		s += fmt.Sprintf("%s: %s\n", key, string(value))
	}
	s += "----------\n"
	return s
}

func formatKey(prefix, key string) string {
	return prefix + "|" + key
}

func (m *memStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.m[formatKey(prefix, key)], m.faultHandler()
}

func (m *memStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.m[formatKey(prefix, key)] = value
	return m.faultHandler()
}

func (m *memStore) Remove(ctx context.Context, prefix, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.m, formatKey(prefix, key))
	return m.faultHandler()
}

func (m *memStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	m.mu.Lock()

	prefix += "|"
	matchedKeys := make([]string, 0)
	for key := range m.m {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		matchedKeys = append(matchedKeys, key)
	}
	m.mu.Unlock()

	// map order is random; iterate sorted so callers see a stable order
	sort.Strings(matchedKeys)
	for _, key := range matchedKeys {
		key, _ = strings.CutPrefix(key, prefix)
		if !iterator(key) {
			break
		}
	}
	return m.faultHandler()
}
