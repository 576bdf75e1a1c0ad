package overlay

import (
	"errors"
	"testing"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine/store"
)

func newManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s := store.New()
	s.Load([]domain.Resource{
		domain.Task{ID: "A", OwnerID: "7", Department: "OP", Title: "alpha", Progress: 10},
		domain.Task{ID: "B", OwnerID: "7", Department: "OP", Title: "beta", Progress: 20},
	})
	return New(s), s
}

func TestStageIsolatedPerEntity(t *testing.T) {
	m, s := newManager(t)
	beforeB, _ := m.Peek("B")

	if err := m.Stage("A", domain.FieldProgress, 90); err != nil {
		t.Fatalf("stage: %v", err)
	}
	afterB, _ := m.Peek("B")
	if afterB != beforeB {
		t.Fatalf("staging A changed B: %+v", afterB)
	}
	if m.HasPendingChanges("B") {
		t.Fatalf("B should not have pending changes")
	}
	storedA, _ := s.Get("A")
	if storedA.(domain.Task).Progress != 10 {
		t.Fatalf("staging wrote through to the store")
	}
	peekA, _ := m.Peek("A")
	if peekA.(domain.Task).Progress != 90 {
		t.Fatalf("peek should show staged value, got %+v", peekA)
	}
}

func TestBeginCancelRoundTrip(t *testing.T) {
	m, s := newManager(t)
	stored, _ := s.Get("A")
	if err := m.Begin("A"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if !m.HasPendingChanges("A") {
		t.Fatalf("begin should open an overlay")
	}
	m.Cancel("A")
	got, _ := m.Peek("A")
	if got != stored {
		t.Fatalf("round trip changed value: %+v vs %+v", got, stored)
	}
	if m.HasPendingChanges("A") {
		t.Fatalf("cancel should drop the overlay")
	}
}

func TestOverlayEqualToStoreStaysDirty(t *testing.T) {
	m, _ := newManager(t)
	if err := m.Stage("A", domain.FieldTitle, "changed"); err != nil {
		t.Fatal(err)
	}
	if err := m.Stage("A", domain.FieldTitle, "alpha"); err != nil {
		t.Fatal(err)
	}
	if !m.HasPendingChanges("A") {
		t.Fatalf("typing and reverting must keep the overlay dirty")
	}
}

func TestStageInvalidLeavesOverlayUntouched(t *testing.T) {
	m, _ := newManager(t)
	if err := m.Stage("A", "owner_id", "9"); err == nil {
		t.Fatalf("expected read-only field to be rejected")
	}
	if m.HasPendingChanges("A") {
		t.Fatalf("a rejected stage must not create an overlay")
	}
	if err := m.Stage("A", domain.FieldProgress, 30); err != nil {
		t.Fatal(err)
	}
	if err := m.Stage("A", domain.FieldProgress, "lots"); err == nil {
		t.Fatalf("expected bad value to be rejected")
	}
	got, _ := m.Peek("A")
	if got.(domain.Task).Progress != 30 {
		t.Fatalf("rejected stage altered overlay: %+v", got)
	}
}

func TestStageUnknownEntity(t *testing.T) {
	m, _ := newManager(t)
	if err := m.Stage("Z", domain.FieldTitle, "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.Begin("Z"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReloadDropsOverlays(t *testing.T) {
	m, s := newManager(t)
	_ = m.Stage("A", domain.FieldTitle, "draft")
	s.Load([]domain.Resource{domain.Task{ID: "A", Title: "server"}})
	if m.HasPendingChanges("A") {
		t.Fatalf("reload must drop overlays")
	}
	got, _ := m.Peek("A")
	if got.(domain.Task).Title != "server" {
		t.Fatalf("expected server value after reload, got %+v", got)
	}
}

func TestPendingAndClearIf(t *testing.T) {
	m, _ := newManager(t)
	_ = m.Stage("A", domain.FieldTitle, "draft")
	fields, gen, ok := m.Pending("A")
	if !ok || len(fields) != 1 || fields[domain.FieldTitle] != "draft" {
		t.Fatalf("unexpected pending %v %v", fields, ok)
	}
	_ = m.Stage("A", domain.FieldProgress, 55)
	if m.ClearIf("A", gen) {
		t.Fatalf("ClearIf must keep edits staged after gen")
	}
	_, gen2, _ := m.Pending("A")
	if !m.ClearIf("A", gen2) {
		t.Fatalf("ClearIf with current gen should clear")
	}
}

func TestRebase(t *testing.T) {
	s := store.New()
	s.Load([]domain.Resource{domain.Account{ID: "3", Username: "bob", Role: domain.RoleUser, Department: "OP"}})
	m := New(s)
	_ = m.Stage("3", domain.FieldDepartment, "QA")
	_ = m.Stage("3", domain.FieldRole, "manager")
	if err := m.Rebase("3", domain.FieldRole, "admin"); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Peek("3")
	acct := got.(domain.Account)
	if acct.Role != domain.RoleAdmin || acct.Department != "QA" {
		t.Fatalf("unexpected rebase result %+v", acct)
	}
	if err := m.Rebase("3", domain.FieldDepartment, "QA"); err != nil {
		t.Fatal(err)
	}
	if m.HasPendingChanges("3") {
		t.Fatalf("overlay with nothing staged should be removed")
	}
}
