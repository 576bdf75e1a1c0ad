// Package engine coordinates optimistic edits of one server-owned
// collection. It authorizes each request with the policy package, refuses
// duplicate submissions through the tracker, bounds every remote call with a
// timeout and only writes server-confirmed values into the store.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine/overlay"
	"taskdesk/internal/engine/policy"
	"taskdesk/internal/engine/store"
	"taskdesk/internal/engine/tracker"
)

const (
	DefaultTimeout = 10 * time.Second

	// OpReload labels rejections raised by Reload.
	OpReload tracker.Kind = "reload"
	// OpSession labels rejections raised while resolving the session actor.
	OpSession tracker.Kind = "session"

	// newEntityKey prefixes the tracker key of a create; the rest is a
	// digest of the submitted fields.
	newEntityKey = "(new)"
)

// Remote is the authoritative store as seen by the engine. The transport
// attaches credentials; the engine never sees them.
type Remote interface {
	List(ctx context.Context, kind domain.Kind) ([]domain.Resource, error)
	Create(ctx context.Context, kind domain.Kind, fields domain.Fields) (domain.Resource, error)
	Update(ctx context.Context, kind domain.Kind, id string, fields domain.Fields) (domain.Resource, error)
	Delete(ctx context.Context, kind domain.Kind, id string) error
}

type Options struct {
	// Timeout bounds each remote call. Zero means DefaultTimeout.
	Timeout      time.Duration
	Logger       *slog.Logger
	Now          func() time.Time
	OnTransition func(Transition)
}

type Engine struct {
	kind         domain.Kind
	remote       Remote
	store        *store.Store
	overlay      *overlay.Manager
	tracker      *tracker.Tracker
	timeout      time.Duration
	log          *slog.Logger
	nowFn        func() time.Time
	onTransition func(Transition)
}

func New(kind domain.Kind, r Remote, opts Options) *Engine {
	s := store.New()
	e := &Engine{
		kind:         kind,
		remote:       r,
		store:        s,
		overlay:      overlay.New(s),
		tracker:      tracker.New(),
		timeout:      opts.Timeout,
		log:          opts.Logger,
		nowFn:        opts.Now,
		onTransition: opts.OnTransition,
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("kind", string(kind))
	if e.nowFn != nil {
		e.tracker.Now = e.nowFn
	}
	return e
}

func (e *Engine) now() time.Time {
	if e.nowFn != nil {
		return e.nowFn()
	}
	return time.Now()
}

// Kind is the collection this engine manages.
func (e *Engine) Kind() domain.Kind { return e.kind }

// Reload replaces the store with the server's list. Every overlay is
// dropped; in-flight operations are unaffected and still commit.
func (e *Engine) Reload(ctx context.Context) error {
	list, err := bounded(ctx, e.timeout, func(ctx context.Context) ([]domain.Resource, error) {
		return e.remote.List(ctx, e.kind)
	})
	if err != nil {
		e.log.Warn("reload failed", "err", err)
		return &RejectedError{Kind: classify(err), Op: OpReload, Resource: e.kind, Err: err}
	}
	e.store.Load(list)
	e.log.Debug("reloaded", "count", len(list))
	return nil
}

// --- read model ---

// Peek returns the overlay value when one exists, else the stored value.
func (e *Engine) Peek(id string) (domain.Resource, bool) { return e.overlay.Peek(id) }

// List returns what the presentation layer renders: stored entities in
// store order, each replaced by its overlay when one exists.
func (e *Engine) List() []domain.Resource {
	stored := e.store.List()
	out := make([]domain.Resource, 0, len(stored))
	for _, r := range stored {
		if v, ok := e.overlay.Peek(r.ResourceID()); ok {
			out = append(out, v)
			continue
		}
		out = append(out, r)
	}
	return out
}

// Stored returns the last server-confirmed value for id.
func (e *Engine) Stored(id string) (domain.Resource, bool) { return e.store.Get(id) }

func (e *Engine) IsBusy(id string, op tracker.Kind) bool { return e.tracker.IsBusy(id, op) }

// Busy reports whether id has any operation in flight.
func (e *Engine) Busy(id string) bool { return e.tracker.Busy(id) }

func (e *Engine) Tokens() []tracker.Token { return e.tracker.Tokens() }

func (e *Engine) HasPendingChanges(id string) bool { return e.overlay.HasPendingChanges(id) }

func (e *Engine) Begin(id string) error {
	if err := e.overlay.Begin(id); err != nil {
		return &RejectedError{Kind: localKind(err), Op: tracker.KindSave, Resource: e.kind, ID: id, Err: err}
	}
	return nil
}

func (e *Engine) Stage(id, field string, value any) error {
	if err := e.overlay.Stage(id, field, value); err != nil {
		return &RejectedError{Kind: localKind(err), Op: tracker.KindSave, Resource: e.kind, ID: id, Err: err}
	}
	return nil
}

func (e *Engine) Cancel(id string) { e.overlay.Cancel(id) }

// --- write entry points ---

// plan describes one mutation for execute. commit runs after a successful
// remote call and returns ErrNotFound-wrapping errors when the result must
// be discarded.
type plan struct {
	op      tracker.Kind
	id      string
	key     string
	allowed func() error
	check   func() error
	send    func(ctx context.Context) (domain.Resource, error)
	commit  func(res domain.Resource) (domain.Resource, error)
}

func (e *Engine) reject(m *mutation, kind ErrorKind, err error) error {
	_ = e.to(m, StateRejected)
	re := &RejectedError{Kind: kind, Op: m.op, Resource: e.kind, ID: m.id, Err: err}
	switch kind {
	case KindForbidden, KindConflict, KindInvalid:
		e.log.Debug("mutation rejected locally", "op", m.op, "id", m.id, "reason", kind, "err", err)
	default:
		e.log.Warn("mutation rejected", "op", m.op, "id", m.id, "reason", kind, "err", err)
	}
	return re
}

func (e *Engine) execute(ctx context.Context, p plan) (domain.Resource, error) {
	m := &mutation{op: p.op, id: p.id}
	if err := p.allowed(); err != nil {
		var fe policy.ForbiddenError
		if errors.As(err, &fe) {
			return nil, e.reject(m, KindForbidden, err)
		}
		return nil, e.reject(m, localKind(err), err)
	}
	if err := e.to(m, StateAuthorized); err != nil {
		return nil, err
	}
	if p.check != nil {
		if err := p.check(); err != nil {
			return nil, e.reject(m, KindInvalid, err)
		}
	}
	key := p.key
	if key == "" {
		key = p.id
	}
	release, ok := e.tracker.Acquire(key, p.op)
	if !ok {
		return nil, e.reject(m, KindConflict, nil)
	}
	defer release()
	if err := e.to(m, StateInFlight); err != nil {
		return nil, err
	}

	res, err := bounded(ctx, e.timeout, p.send)
	if err != nil {
		return nil, e.reject(m, classify(err), err)
	}
	out, err := p.commit(res)
	if err != nil {
		return nil, e.reject(m, localKind(err), err)
	}
	if out != nil && m.id == "" {
		m.id = out.ResourceID()
	}
	if err := e.to(m, StateCommitted); err != nil {
		return nil, err
	}
	e.log.Info("mutation committed", "op", m.op, "id", m.id)
	return out, nil
}

type result[T any] struct {
	val T
	err error
}

// bounded runs call with a deadline and returns once either the call
// finishes or the deadline passes, whichever comes first. A call that
// ignores its context keeps running in the background and its result is
// dropped. Any failure after the deadline is reported as the context error.
func bounded[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan result[T], 1)
	go func() {
		v, err := call(callCtx)
		done <- result[T]{val: v, err: err}
	}()
	select {
	case r := <-done:
		if r.err != nil && callCtx.Err() != nil {
			return r.val, fmt.Errorf("%w: %v", callCtx.Err(), r.err)
		}
		return r.val, r.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}

func (e *Engine) target(id string) (domain.Resource, error) {
	cur, ok := e.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", e.kind, id, store.ErrNotFound)
	}
	return cur, nil
}

// RequestSave sends the staged fields of id's overlay. On commit the store
// takes the server's returned fields and the overlay is cleared unless
// something was staged while the call was in flight. An overlay that was
// begun but never staged is simply closed without a remote call.
func (e *Engine) RequestSave(ctx context.Context, id string, actor domain.Actor) (domain.Resource, error) {
	fields, gen, open := e.overlay.Pending(id)
	if open && len(fields) == 0 {
		e.overlay.ClearIf(id, gen)
		if cur, ok := e.store.Get(id); ok {
			return cur, nil
		}
	}
	return e.execute(ctx, plan{
		op:      tracker.KindSave,
		id:      id,
		allowed: func() error {
			cur, err := e.target(id)
			if err != nil {
				return err
			}
			for _, action := range saveActions(e.kind, fields) {
				if err := policy.Authorize(actor, cur, action); err != nil {
					return err
				}
			}
			return nil
		},
		check: func() error {
			if !open {
				return fmt.Errorf("no pending changes for %s %s", e.kind, id)
			}
			draft, _ := e.overlay.Peek(id)
			return validate(draft)
		},
		send: func(ctx context.Context) (domain.Resource, error) {
			return e.remote.Update(ctx, e.kind, id, fields)
		},
		commit: func(res domain.Resource) (domain.Resource, error) {
			committed, err := e.store.ApplyCommitted(id, res.ServerFields())
			if err != nil {
				return nil, err
			}
			e.overlay.ClearIf(id, gen)
			return committed, nil
		},
	})
}

// RequestDelete removes id on the server. On commit the entity and any
// overlay are dropped locally; a save in flight for the same id will find it
// gone and discard its result.
func (e *Engine) RequestDelete(ctx context.Context, id string, actor domain.Actor) error {
	_, err := e.execute(ctx, plan{
		op:      tracker.KindDelete,
		id:      id,
		allowed: func() error {
			cur, err := e.target(id)
			if err != nil {
				return err
			}
			return policy.Authorize(actor, cur, policy.ActionDelete)
		},
		send: func(ctx context.Context) (domain.Resource, error) {
			return nil, e.remote.Delete(ctx, e.kind, id)
		},
		commit: func(domain.Resource) (domain.Resource, error) {
			e.store.Remove(id)
			e.overlay.Cancel(id)
			return nil, nil
		},
	})
	return err
}

// RequestRoleChange sets an account's role. Only the role field is updated
// on commit; other staged fields in the overlay survive.
func (e *Engine) RequestRoleChange(ctx context.Context, id string, role domain.Role, actor domain.Actor) (domain.Resource, error) {
	return e.requestField(ctx, tracker.KindRoleChange, policy.ActionChangeRole, id, domain.FieldRole, actor, func() (any, error) {
		if !role.Valid() {
			return nil, domain.FieldError{Field: domain.FieldRole, Reason: fmt.Sprintf("unknown role %q", role)}
		}
		return string(role), nil
	})
}

// RequestDepartmentChange sets an account's department, with the same
// partial-commit rule as RequestRoleChange.
func (e *Engine) RequestDepartmentChange(ctx context.Context, id, department string, actor domain.Actor) (domain.Resource, error) {
	return e.requestField(ctx, tracker.KindDepartmentChange, policy.ActionChangeDepartment, id, domain.FieldDepartment, actor, func() (any, error) {
		dep := strings.TrimSpace(department)
		if dep == "" {
			return nil, domain.FieldError{Field: domain.FieldDepartment, Reason: "department is required"}
		}
		return dep, nil
	})
}

func (e *Engine) requestField(ctx context.Context, op tracker.Kind, action policy.Action, id, field string, actor domain.Actor, value func() (any, error)) (domain.Resource, error) {
	var v any
	return e.execute(ctx, plan{
		op:      op,
		id:      id,
		allowed: func() error {
			if e.kind != domain.KindAccount {
				return fmt.Errorf("%s applies to accounts, not %s", op, e.kind)
			}
			cur, err := e.target(id)
			if err != nil {
				return err
			}
			return policy.Authorize(actor, cur, action)
		},
		check: func() error {
			var err error
			v, err = value()
			return err
		},
		send: func(ctx context.Context) (domain.Resource, error) {
			return e.remote.Update(ctx, e.kind, id, domain.Fields{field: v})
		},
		commit: func(res domain.Resource) (domain.Resource, error) {
			confirmed, ok := res.ServerFields()[field]
			if !ok {
				confirmed = v
			}
			committed, err := e.store.ApplyCommitted(id, domain.Fields{field: confirmed})
			if err != nil {
				return nil, err
			}
			if err := e.overlay.Rebase(id, field, confirmed); err != nil {
				e.log.Warn("rebase overlay", "id", id, "field", field, "err", err)
			}
			return committed, nil
		},
	})
}

// RequestCreate asks the server to create a resource from fields and adds
// the server's result to the store.
func (e *Engine) RequestCreate(ctx context.Context, fields domain.Fields, actor domain.Actor) (domain.Resource, error) {
	fields = fields.Clone()
	return e.execute(ctx, plan{
		op:      tracker.KindCreate,
		key:     createKey(fields),
		allowed: func() error {
			if !policy.CanCreate(actor, e.kind) {
				return policy.ForbiddenError{Action: policy.Action(tracker.KindCreate), Kind: e.kind}
			}
			return nil
		},
		check: func() error {
			if e.kind != domain.KindTask {
				return nil
			}
			var draft domain.Resource = domain.Task{}
			for _, name := range fields.Names() {
				next, err := draft.WithField(name, fields[name])
				if err != nil {
					return err
				}
				draft = next
			}
			return validate(draft)
		},
		send: func(ctx context.Context) (domain.Resource, error) {
			return e.remote.Create(ctx, e.kind, fields)
		},
		commit: func(res domain.Resource) (domain.Resource, error) {
			if res == nil {
				return nil, fmt.Errorf("create %s: empty response", e.kind)
			}
			e.store.Put(res)
			return res, nil
		},
	})
}

// createKey identifies a create by its content, so a double submit of the
// same draft conflicts while different drafts run side by side.
func createKey(fields domain.Fields) string {
	data, err := json.Marshal(fields)
	if err != nil {
		return newEntityKey
	}
	sum := sha256.Sum256(data)
	return newEntityKey + ":" + hex.EncodeToString(sum[:8])
}

func saveActions(kind domain.Kind, fields domain.Fields) []policy.Action {
	if kind == domain.KindTask {
		return []policy.Action{policy.ActionEdit}
	}
	var out []policy.Action
	if _, ok := fields[domain.FieldRole]; ok {
		out = append(out, policy.ActionChangeRole)
	}
	if _, ok := fields[domain.FieldDepartment]; ok {
		out = append(out, policy.ActionChangeDepartment)
	}
	if len(out) == 0 {
		out = append(out, policy.ActionChangeDepartment)
	}
	return out
}

type validator interface {
	Validate() error
}

func validate(r domain.Resource) error {
	if v, ok := r.(validator); ok {
		return v.Validate()
	}
	return nil
}
