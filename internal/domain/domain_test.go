package domain

import (
	"errors"
	"testing"
)

func TestTaskWithFieldCoercesValues(t *testing.T) {
	base := Task{ID: "t1", OwnerID: "7", Department: "OP", Title: "old"}

	r, err := base.WithField(FieldProgress, "40")
	if err != nil {
		t.Fatalf("progress from string: %v", err)
	}
	r, err = r.WithField(FieldHoursPerWeek, 2.5)
	if err != nil {
		t.Fatalf("hours: %v", err)
	}
	r, err = r.WithField(FieldLoadPerMonth, float64(30))
	if err != nil {
		t.Fatalf("load from json number: %v", err)
	}
	got := r.(Task)
	if got.Progress != 40 || got.HoursPerWeek != 2.5 || got.LoadPerMonth != 30 {
		t.Fatalf("unexpected task %+v", got)
	}
	if base.Progress != 0 {
		t.Fatalf("WithField mutated the receiver")
	}
}

func TestTaskWithFieldRejectsReadOnlyAndUnknown(t *testing.T) {
	base := Task{ID: "t1"}
	for _, name := range []string{"owner_id", "department", FieldUpdatedAt, "bogus"} {
		_, err := base.WithField(name, "x")
		var fe FieldError
		if !errors.As(err, &fe) {
			t.Fatalf("%s: expected FieldError, got %v", name, err)
		}
	}
	if _, err := base.WithField(FieldProgress, 1.5); err == nil {
		t.Fatalf("expected fractional progress to be rejected")
	}
}

func TestTaskMergeAcceptsServerFields(t *testing.T) {
	base := Task{ID: "t1", Title: "a"}
	r, err := base.Merge(Fields{FieldTitle: "b", FieldUpdatedAt: "2024-01-02T00:00:00Z"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	got := r.(Task)
	if got.Title != "b" || got.UpdatedAt != "2024-01-02T00:00:00Z" {
		t.Fatalf("unexpected merge result %+v", got)
	}
}

func TestTaskValidate(t *testing.T) {
	ok := Task{Title: "x", Progress: 100, HoursPerWeek: 0, LoadPerMonth: 0}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid: %v", err)
	}
	bad := []Task{
		{Title: " "},
		{Title: "x", Progress: 101},
		{Title: "x", HoursPerWeek: -1},
		{Title: "x", LoadPerMonth: -5},
	}
	for i, tk := range bad {
		if err := tk.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestAccountFields(t *testing.T) {
	a := Account{ID: "3", Username: "bob", Role: RoleUser}
	r, err := a.WithField(FieldRole, "Manager")
	if err != nil {
		t.Fatalf("role: %v", err)
	}
	if r.(Account).Role != RoleManager {
		t.Fatalf("expected manager, got %s", r.(Account).Role)
	}
	if _, err := a.WithField(FieldRole, "root"); err == nil {
		t.Fatalf("expected unknown role to fail")
	}
	if _, err := a.WithField("username", "eve"); err == nil {
		t.Fatalf("username must not be editable")
	}
	if _, err := a.WithField(FieldDepartment, "  "); err == nil {
		t.Fatalf("blank department must be rejected")
	}
	r, err = a.WithField(FieldDepartment, " QA ")
	if err != nil || r.(Account).Department != "QA" {
		t.Fatalf("department should be trimmed: %+v %v", r, err)
	}
	merged, err := a.Merge(Fields{FieldDepartment: ""})
	if err != nil || merged.(Account).Department != "" {
		t.Fatalf("server values without a department must merge: %+v %v", merged, err)
	}
	if a.Owner() != a.ID {
		t.Fatalf("account must own itself")
	}
}
