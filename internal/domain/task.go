package domain

import (
	"math"
	"strings"
)

const (
	FieldTitle        = "title"
	FieldDescription  = "description"
	FieldProgress     = "progress"
	FieldHoursPerWeek = "hours_per_week"
	FieldLoadPerMonth = "load_per_month"
	FieldUpdatedAt    = "updated_at"
	FieldOwnerName    = "owner_name"
)

type Task struct {
	ID           string  `json:"id"`
	OwnerID      string  `json:"owner_id"`
	OwnerName    string  `json:"owner_name,omitempty"`
	Department   string  `json:"department"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Progress     int     `json:"progress" minimum:"0" maximum:"100"`
	HoursPerWeek float64 `json:"hours_per_week" minimum:"0"`
	LoadPerMonth int     `json:"load_per_month" minimum:"0" maximum:"100"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at,omitempty" format:"date-time"`
}

func (t Task) ResourceID() string       { return t.ID }
func (t Task) ResourceKind() Kind       { return KindTask }
func (t Task) Owner() string            { return t.OwnerID }
func (t Task) OwningDepartment() string { return t.Department }

func (t Task) Fields() Fields {
	return Fields{
		FieldTitle:        t.Title,
		FieldDescription:  t.Description,
		FieldProgress:     t.Progress,
		FieldHoursPerWeek: t.HoursPerWeek,
		FieldLoadPerMonth: t.LoadPerMonth,
	}
}

func (t Task) ServerFields() Fields {
	f := t.Fields()
	f[FieldUpdatedAt] = t.UpdatedAt
	f[FieldOwnerName] = t.OwnerName
	return f
}

func (t Task) WithField(name string, value any) (Resource, error) {
	if err := t.set(name, value, false); err != nil {
		return nil, err
	}
	return t, nil
}

func (t Task) Merge(fields Fields) (Resource, error) {
	for _, name := range fields.Names() {
		if err := t.set(name, fields[name], true); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// set mutates the receiver copy; callers hand out the copy.
func (t *Task) set(name string, value any, server bool) error {
	var err error
	switch name {
	case FieldTitle:
		t.Title, err = asString(name, value)
	case FieldDescription:
		t.Description, err = asString(name, value)
	case FieldProgress:
		t.Progress, err = asInt(name, value)
	case FieldHoursPerWeek:
		t.HoursPerWeek, err = asFloat(name, value)
	case FieldLoadPerMonth:
		t.LoadPerMonth, err = asInt(name, value)
	case FieldUpdatedAt:
		if !server {
			return unknownField(name)
		}
		t.UpdatedAt, err = asString(name, value)
	case FieldOwnerName:
		if !server {
			return unknownField(name)
		}
		t.OwnerName, err = asString(name, value)
	default:
		return unknownField(name)
	}
	return err
}

// Validate checks the ranges the authoritative store enforces.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return FieldError{Field: FieldTitle, Reason: "title is required"}
	}
	if t.Progress < 0 || t.Progress > 100 {
		return FieldError{Field: FieldProgress, Reason: "must be between 0 and 100"}
	}
	if t.HoursPerWeek < 0 || math.IsNaN(t.HoursPerWeek) || math.IsInf(t.HoursPerWeek, 0) {
		return FieldError{Field: FieldHoursPerWeek, Reason: "must be a non-negative number"}
	}
	if t.LoadPerMonth < 0 || t.LoadPerMonth > 100 {
		return FieldError{Field: FieldLoadPerMonth, Reason: "must be between 0 and 100"}
	}
	return nil
}
