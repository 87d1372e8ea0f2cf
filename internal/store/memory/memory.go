// Package memory implements the store contract over a process-local map.
// It is the development and test backend: a single exclusive lock serializes
// every operation, and search reuses the filter engine's in-memory
// evaluator. Group members live in an embedded sub-store per group, keyed by
// the member's "value", so membership queries go through the same engine.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dhawalhost/provgate/internal/filter"
	"github.com/dhawalhost/provgate/internal/store"
)

// Option configures a Memory store.
type Option func(*Memory)

// WithUniqueAttr enforces case-insensitive uniqueness of the named attribute
// (userName for users, displayName for groups) by linear scan.
func WithUniqueAttr(attr string) Option {
	return func(m *Memory) { m.uniqueAttr = attr }
}

// WithNestedStore stores the named list attribute in an embedded sub-store
// keyed by each element's "value" field.
func WithNestedStore(attr string) Option {
	return func(m *Memory) { m.nestedAttr = attr }
}

func withKeyAttr(attr string) Option {
	return func(m *Memory) { m.keyAttr = attr }
}

// Memory is an in-memory implementation of store.GroupStore.
type Memory struct {
	mu         sync.Mutex
	kind       string
	keyAttr    string
	uniqueAttr string
	nestedAttr string
	resources  map[string]store.Resource
	nested     map[string]*Memory
}

// New returns an empty store for the given resource kind.
func New(kind string, opts ...Option) *Memory {
	m := &Memory{
		kind:      kind,
		keyAttr:   "id",
		resources: make(map[string]store.Resource),
		nested:    make(map[string]*Memory),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) GetByID(_ context.Context, id string) (store.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resource, ok := m.resources[id]
	if !ok {
		return nil, store.NotFoundError(m.kind, id)
	}
	return m.materialize(id, resource), nil
}

func (m *Memory) Search(_ context.Context, filterExpr string, startIndex, count int) ([]store.Resource, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expr filter.Expr
	if filterExpr != "" {
		parsed, err := filter.Parse(filterExpr)
		if err != nil {
			return nil, 0, err
		}
		expr = parsed
	}

	ids := make([]string, 0, len(m.resources))
	for id := range m.resources {
		ids = append(ids, id)
	}
	sort.Strings(ids) // stable page order

	var matches []store.Resource
	for _, id := range ids {
		resource := m.materialize(id, m.resources[id])
		if expr != nil && !filter.Evaluate(expr, filter.FoldRecord(resource)) {
			continue
		}
		matches = append(matches, resource)
	}

	total := len(matches)
	if startIndex < 1 {
		startIndex = 1
	}
	offset := startIndex - 1
	if offset >= total {
		return []store.Resource{}, total, nil
	}
	end := offset + count
	if count <= 0 || end > total {
		end = total
	}
	return matches[offset:end], total, nil
}

func (m *Memory) Create(_ context.Context, resource store.Resource) (store.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, _ := resource[m.keyAttr].(string)
	if id != "" {
		if _, exists := m.resources[id]; exists {
			return nil, store.AlreadyExistsError(m.kind, id)
		}
	} else {
		id = uuid.NewString()
	}
	if m.uniqueAttr != "" {
		if name, ok := resource[m.uniqueAttr].(string); ok && m.nameTaken(name, "") {
			return nil, store.AlreadyExistsError(m.kind, name)
		}
	}

	stored := store.Sanitize(resource)
	stored[m.keyAttr] = id
	if m.nestedAttr != "" {
		if members, ok := stored[m.nestedAttr].([]any); ok {
			sub := m.subStore(id)
			for _, member := range members {
				if elem, isMap := member.(map[string]any); isMap {
					sub.putLocked(elem)
				}
			}
		}
		delete(stored, m.nestedAttr)
	}
	m.resources[id] = stored
	return m.materialize(id, stored), nil
}

func (m *Memory) Update(_ context.Context, id string, attrs store.Resource) (store.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resource, ok := m.resources[id]
	if !ok {
		return nil, store.NotFoundError(m.kind, id)
	}
	if m.uniqueAttr != "" {
		if name, ok := attrs[m.uniqueAttr].(string); ok && m.nameTaken(name, id) {
			return nil, store.AlreadyExistsError(m.kind, name)
		}
	}

	merged := store.Sanitize(attrs)
	delete(merged, m.keyAttr)  // ids are immutable
	delete(merged, "groups")   // derived view, edited via the Groups API
	if m.nestedAttr != "" {
		if members, ok := merged[m.nestedAttr].([]any); ok {
			sub := New(m.nestedAttr, withKeyAttr("value"))
			for _, member := range members {
				if elem, isMap := member.(map[string]any); isMap {
					sub.putLocked(elem)
				}
			}
			m.nested[id] = sub
		}
		delete(merged, m.nestedAttr)
	}
	for k, v := range merged {
		resource[k] = v
	}
	m.resources[id] = resource
	return m.materialize(id, resource), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[id]; !ok {
		return store.NotFoundError(m.kind, id)
	}
	delete(m.resources, id)
	delete(m.nested, id)
	return nil
}

func (m *Memory) AddUserToGroup(_ context.Context, userID, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[groupID]; !ok {
		return store.NotFoundError(m.kind, groupID)
	}
	m.subStore(groupID).putLocked(store.Resource{"value": userID})
	return nil
}

func (m *Memory) RemoveUsersFromGroup(_ context.Context, userIDs []string, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[groupID]; !ok {
		return store.NotFoundError(m.kind, groupID)
	}
	sub := m.subStore(groupID)
	for _, userID := range userIDs {
		delete(sub.resources, userID)
	}
	return nil
}

func (m *Memory) SetGroupMembers(_ context.Context, userIDs []string, groupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[groupID]; !ok {
		return store.NotFoundError(m.kind, groupID)
	}
	sub := New(m.nestedAttr, withKeyAttr("value"))
	for _, userID := range userIDs {
		sub.putLocked(store.Resource{"value": userID})
	}
	m.nested[groupID] = sub
	return nil
}

func (m *Memory) SearchMembers(ctx context.Context, filterExpr, groupID string) ([]store.Resource, error) {
	m.mu.Lock()
	if _, ok := m.resources[groupID]; !ok {
		m.mu.Unlock()
		return nil, store.NotFoundError(m.kind, groupID)
	}
	sub := m.subStore(groupID)
	m.mu.Unlock()

	members, _, err := sub.Search(ctx, filterExpr, 1, 0)
	return members, err
}

// subStore returns the member sub-store for a resource, creating it lazily.
// Callers must hold m.mu.
func (m *Memory) subStore(id string) *Memory {
	sub, ok := m.nested[id]
	if !ok {
		sub = New(m.nestedAttr, withKeyAttr("value"))
		m.nested[id] = sub
	}
	return sub
}

// putLocked inserts an element keyed by its key attribute, overwriting any
// existing entry; membership insertion is idempotent this way.
func (m *Memory) putLocked(elem store.Resource) {
	key, _ := elem[m.keyAttr].(string)
	if key == "" {
		return
	}
	m.resources[key] = elem
}

// materialize copies the stored record, re-attaching the nested member list
// so callers see the full resource shape.
func (m *Memory) materialize(id string, resource store.Resource) store.Resource {
	out := store.Sanitize(resource)
	if m.nestedAttr == "" {
		return out
	}
	members := make([]any, 0)
	if sub, ok := m.nested[id]; ok {
		keys := make([]string, 0, len(sub.resources))
		for k := range sub.resources {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			members = append(members, map[string]any(sub.resources[k]))
		}
	}
	out[m.nestedAttr] = members
	return out
}

func (m *Memory) nameTaken(name, excludeID string) bool {
	for id, resource := range m.resources {
		if id == excludeID {
			continue
		}
		if existing, ok := resource[m.uniqueAttr].(string); ok && strings.EqualFold(existing, name) {
			return true
		}
	}
	return false
}
