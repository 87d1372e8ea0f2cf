// Package scim carries the SCIM 2.0 resource model, the HTTP handlers and
// the PatchOp interpreter for groups. Resources are handled in their decoded
// JSON form so custom-schema attributes survive round trips untouched.
package scim

// Canonical schema URIs, verbatim from RFC 7643/7644.
const (
	UserSchema  = "urn:ietf:params:scim:schemas:core:2.0:User"
	GroupSchema = "urn:ietf:params:scim:schemas:core:2.0:Group"
	ListSchema  = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	ErrorSchema = "urn:ietf:params:scim:api:messages:2.0:Error"
	PatchSchema = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
)

// ListResponse is the SCIM list envelope. StartIndex is 1-based.
type ListResponse struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	Resources    []any    `json:"Resources"`
}

// Error is the SCIM error envelope.
type Error struct {
	Schemas []string `json:"schemas"`
	Status  int      `json:"status"`
	Detail  string   `json:"detail,omitempty"`
}

// PatchRequest is a SCIM PatchOp message body.
type PatchRequest struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// PatchOperation is a single add/remove/replace operation.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}
