package domain

import (
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleUser    Role = "user"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleManager, RoleAdmin:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q: must be one of user, manager, admin", s)
	}
	return r, nil
}

// Actor is the authenticated subject behind a request. It does not change
// for the lifetime of a session.
type Actor struct {
	ID         string `json:"id"`
	Role       Role   `json:"role"`
	Department string `json:"department,omitempty"`
}

// Kind names a resource collection.
type Kind string

const (
	KindTask    Kind = "task"
	KindAccount Kind = "account"
)

// Fields carries named field values for staging, partial updates and
// committed merges.
type Fields map[string]any

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Names returns the field names in sorted order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Resource is implemented by Task and Account. Implementations are values:
// every method returning a Resource returns a fresh copy.
type Resource interface {
	ResourceID() string
	ResourceKind() Kind
	// Owner is the owning actor id. Accounts own themselves.
	Owner() string
	OwningDepartment() string
	// Fields returns the user-editable fields.
	Fields() Fields
	// ServerFields returns the editable fields plus the ones maintained by
	// the authoritative store.
	ServerFields() Fields
	// WithField sets one user-editable field.
	WithField(name string, value any) (Resource, error)
	// Merge applies editable or server-maintained fields.
	Merge(fields Fields) (Resource, error)
}

// FieldError reports an unknown field or a value that cannot be used for it.
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

func unknownField(name string) error {
	return FieldError{Field: name, Reason: "unknown or read-only field"}
}
