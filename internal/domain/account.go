package domain

import "strings"

const (
	FieldRole       = "role"
	FieldDepartment = "department"
)

type Account struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Role       Role   `json:"role" enum:"user,manager,admin"`
	Department string `json:"department,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

func (a Account) ResourceID() string       { return a.ID }
func (a Account) ResourceKind() Kind       { return KindAccount }
func (a Account) Owner() string            { return a.ID }
func (a Account) OwningDepartment() string { return a.Department }

// Actor returns the session actor an account authenticates as.
func (a Account) Actor() Actor {
	return Actor{ID: a.ID, Role: a.Role, Department: a.Department}
}

func (a Account) Fields() Fields {
	return Fields{
		FieldRole:       string(a.Role),
		FieldDepartment: a.Department,
	}
}

func (a Account) ServerFields() Fields { return a.Fields() }

func (a Account) WithField(name string, value any) (Resource, error) {
	if err := a.set(name, value, false); err != nil {
		return nil, err
	}
	return a, nil
}

func (a Account) Merge(fields Fields) (Resource, error) {
	for _, name := range fields.Names() {
		if err := a.set(name, fields[name], true); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// set applies one field. Server values are taken as they are; edits must
// name a department.
func (a *Account) set(name string, value any, server bool) error {
	switch name {
	case FieldRole:
		s, err := asString(name, value)
		if err != nil {
			return err
		}
		r, err := ParseRole(s)
		if err != nil {
			return FieldError{Field: name, Reason: err.Error()}
		}
		a.Role = r
	case FieldDepartment:
		s, err := asString(name, value)
		if err != nil {
			return err
		}
		if !server {
			s = strings.TrimSpace(s)
			if s == "" {
				return FieldError{Field: name, Reason: "department is required"}
			}
		}
		a.Department = s
	default:
		return unknownField(name)
	}
	return nil
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Username) == "" {
		return FieldError{Field: "username", Reason: "username is required"}
	}
	if !a.Role.Valid() {
		return FieldError{Field: FieldRole, Reason: "must be one of user, manager, admin"}
	}
	return nil
}
