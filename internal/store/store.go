// Package store defines the backend-agnostic resource store contract that
// the SCIM handlers operate against, along with the error taxonomy shared by
// all implementations.
package store

import "context"

// Resource is a JSON-shaped SCIM resource. Using the decoded JSON form
// directly keeps custom schema attributes (keyed by their schema URI)
// without any special handling.
type Resource = map[string]any

// Store is the uniform contract over a resource collection.
type Store interface {
	// GetByID returns the sanitized resource or ErrNotFound.
	GetByID(ctx context.Context, id string) (Resource, error)

	// Search returns one page of resources matching the filter expression
	// (all resources when the filter is empty) together with the total
	// number of matches. startIndex is 1-based.
	Search(ctx context.Context, filter string, startIndex, count int) ([]Resource, int, error)

	// Create stores a new resource, assigning an id when the client did
	// not supply one. A uniqueness violation yields ErrAlreadyExists.
	Create(ctx context.Context, resource Resource) (Resource, error)

	// Update merges the given attributes into an existing resource and
	// returns the refreshed, sanitized result.
	Update(ctx context.Context, id string, attrs Resource) (Resource, error)

	// Delete removes the resource and everything owned by it.
	Delete(ctx context.Context, id string) error
}

// GroupStore extends Store with group-membership mutations. Membership is a
// derived view on both sides (User.groups, Group.members), so it is edited
// only through these operations, never by writing the projected fields.
type GroupStore interface {
	Store

	// AddUserToGroup is idempotent: adding an existing member is a no-op.
	AddUserToGroup(ctx context.Context, userID, groupID string) error

	// RemoveUsersFromGroup removes the given members; ids that are not
	// members are ignored.
	RemoveUsersFromGroup(ctx context.Context, userIDs []string, groupID string) error

	// SetGroupMembers replaces the full membership set atomically.
	SetGroupMembers(ctx context.Context, userIDs []string, groupID string) error

	// SearchMembers evaluates a sub-filter over the group's members and
	// returns the matching {value: userId} entries.
	SearchMembers(ctx context.Context, filter, groupID string) ([]Resource, error)
}
