// Package metadata implements the key-path store attached to events and
// responses. Paths are dot separated ("http.headers.accept") and address
// nested maps.
package metadata

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Separator splits a key path into segments.
const Separator = "."

// Store is a concurrency safe nested map addressed by dotted key paths. The
// zero value is ready to use; a nil *Store behaves as an empty, read-only store.
type Store struct {
	mu   sync.RWMutex
	data map[string]any
}

// New builds a store from top-level entries. Values are deep copied.
func New(entries map[string]any) *Store {
	s := &Store{}
	if len(entries) > 0 {
		s.data = copyMap(entries)
	}
	return s
}

// FromFlat builds a store from dotted keys, e.g. transport headers.
func FromFlat(entries map[string]string) *Store {
	s := &Store{}
	for _, key := range sortedKeys(entries) {
		s.Set(key, entries[key])
	}
	return s
}

// Lookup returns the value stored at path.
func (s *Store) Lookup(path string) (any, bool) {
	if s == nil || path == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var current any = s.data
	for _, segment := range strings.Split(path, Separator) {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Get returns the value at path or fallback when it is missing.
func (s *Store) Get(path string, fallback any) any {
	if v, ok := s.Lookup(path); ok {
		return v
	}
	return fallback
}

// GetString returns the value at path when it is a string.
func (s *Store) GetString(path, fallback string) string {
	if v, ok := s.Lookup(path); ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return fallback
}

// Has reports whether path resolves to a value.
func (s *Store) Has(path string) bool {
	_, ok := s.Lookup(path)
	return ok
}

// Set writes value at path, creating or replacing intermediate maps.
func (s *Store) Set(path string, value any) *Store {
	if s == nil || path == "" {
		return s
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.data = make(map[string]any)
	}
	segments := strings.Split(path, Separator)
	node := s.data
	for _, segment := range segments[:len(segments)-1] {
		child, ok := node[segment].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[segment] = child
		}
		node = child
	}
	node[segments[len(segments)-1]] = value
	return s
}

// Delete removes the value at path. It reports whether anything was removed.
func (s *Store) Delete(path string) bool {
	if s == nil || path == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	segments := strings.Split(path, Separator)
	node := s.data
	for _, segment := range segments[:len(segments)-1] {
		child, ok := node[segment].(map[string]any)
		if !ok {
			return false
		}
		node = child
	}
	last := segments[len(segments)-1]
	if _, ok := node[last]; !ok {
		return false
	}
	delete(node, last)
	return true
}

// Merge writes every top-level entry of values into the store.
func (s *Store) Merge(values map[string]any) *Store {
	for key, value := range values {
		s.Set(key, value)
	}
	return s
}

// Len returns the number of top-level entries.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// All returns a deep copy of the stored tree.
func (s *Store) All() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMap(s.data)
}

// Clone returns an independent deep copy.
func (s *Store) Clone() *Store {
	return New(s.All())
}

// Flatten renders the tree as dotted keys with string values.
func (s *Store) Flatten() map[string]string {
	out := make(map[string]string)
	flattenInto(out, "", s.All())
	return out
}

func flattenInto(out map[string]string, prefix string, node map[string]any) {
	for key, value := range node {
		path := key
		if prefix != "" {
			path = prefix + Separator + key
		}
		switch v := value.(type) {
		case map[string]any:
			flattenInto(out, path, v)
		case string:
			out[path] = v
		case nil:
			out[path] = ""
		default:
			out[path] = fmt.Sprint(v)
		}
	}
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return copyMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), typed...)
	case map[string]string:
		out := make(map[string]any, len(typed))
		for k, item := range typed {
			out[k] = item
		}
		return out
	default:
		return v
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
