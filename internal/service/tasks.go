package service

import (
	"context"
	"strings"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine/policy"
	"taskdesk/internal/events"
)

// VisibleTasks lists the tasks actor may see.
func (s Service) VisibleTasks(ctx context.Context, actor domain.Actor) ([]domain.Task, error) {
	all, err := s.Repo.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(all))
	for _, t := range all {
		if policy.CanView(actor, t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// GetTask returns a task actor may see.
func (s Service) GetTask(ctx context.Context, actor domain.Actor, id string) (domain.Task, error) {
	t, err := s.Repo.GetTask(ctx, id)
	if err != nil {
		return t, err
	}
	if !policy.CanView(actor, t) {
		return domain.Task{}, policy.ForbiddenError{Action: "view", Kind: domain.KindTask, ID: id}
	}
	return t, nil
}

// CreateTask creates a task owned by actor.
func (s Service) CreateTask(ctx context.Context, actor domain.Actor, fields domain.Fields) (domain.Task, error) {
	if !policy.CanCreate(actor, domain.KindTask) {
		return domain.Task{}, policy.ForbiddenError{Action: "create", Kind: domain.KindTask}
	}
	now := s.stamp()
	var r domain.Resource = domain.Task{ID: s.newID(), OwnerID: actor.ID, CreatedAt: now, UpdatedAt: now}
	for _, name := range fields.Names() {
		next, err := r.WithField(name, fields[name])
		if err != nil {
			return domain.Task{}, err
		}
		r = next
	}
	t := normalizeTask(r.(domain.Task))
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := s.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := s.events().Append(ctx, tx, events.TaskCreated, string(domain.KindTask), t.ID, actor.ID, events.EventPayload{"title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	created, err := s.Repo.GetTaskTx(ctx, tx, t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return created, nil
}

// UpdateTask applies a partial update to the editable task fields.
func (s Service) UpdateTask(ctx context.Context, actor domain.Actor, id string, fields domain.Fields) (domain.Task, error) {
	if len(fields) == 0 {
		return domain.Task{}, domain.FieldError{Field: "body", Reason: "no fields to update"}
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	cur, err := s.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if err := policy.Authorize(actor, cur, policy.ActionEdit); err != nil {
		return domain.Task{}, err
	}
	var r domain.Resource = cur
	for _, name := range fields.Names() {
		next, err := r.WithField(name, fields[name])
		if err != nil {
			return domain.Task{}, err
		}
		r = next
	}
	t := normalizeTask(r.(domain.Task))
	if err := t.Validate(); err != nil {
		return domain.Task{}, err
	}
	t.UpdatedAt = s.stamp()
	if err := s.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	changed := events.EventPayload{}
	after := t.Fields()
	for name := range fields {
		changed[name] = after[name]
	}
	if err := s.events().Append(ctx, tx, events.TaskUpdated, string(domain.KindTask), id, actor.ID, changed); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (s Service) DeleteTask(ctx context.Context, actor domain.Actor, id string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cur, err := s.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := policy.Authorize(actor, cur, policy.ActionDelete); err != nil {
		return err
	}
	if err := s.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := s.events().Append(ctx, tx, events.TaskDeleted, string(domain.KindTask), id, actor.ID, events.EventPayload{"title": cur.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

func normalizeTask(t domain.Task) domain.Task {
	t.Title = strings.TrimSpace(t.Title)
	t.Description = strings.TrimSpace(t.Description)
	return t
}
