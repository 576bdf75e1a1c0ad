// Package service applies authorized writes to the authoritative store. Each
// write runs in one transaction together with its audit event.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine/policy"
	"taskdesk/internal/events"
	"taskdesk/internal/repo"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const maxUsernameLen = 50

type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	NewID  func() string
	// HashCost is the bcrypt cost; zero means bcrypt.DefaultCost.
	HashCost int
}

func New(db *sql.DB, cfg *config.Config) Service {
	if cfg == nil {
		cfg = config.Default()
	}
	return Service{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Service) stamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

func (s Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

func (s Service) events() events.Writer {
	w := s.Events
	if w.Now == nil {
		w.Now = s.Now
	}
	return w
}

// --- accounts ---

// AccountCreateOptions are parameters for registering or creating an account.
type AccountCreateOptions struct {
	Username   string
	Password   string
	Department string
	Role       domain.Role
	// ActorID is empty for self-registration and bootstrap.
	ActorID string
}

// Register creates a user-role account for a public sign-up.
func (s Service) Register(ctx context.Context, opts AccountCreateOptions) (domain.Account, error) {
	opts.Role = domain.RoleUser
	opts.ActorID = ""
	if strings.TrimSpace(opts.Department) == "" {
		return domain.Account{}, domain.FieldError{Field: domain.FieldDepartment, Reason: "department is required"}
	}
	return s.createAccount(ctx, events.AccountRegistered, opts)
}

// CreateAccount is the admin path for adding an account with any role.
func (s Service) CreateAccount(ctx context.Context, actor domain.Actor, opts AccountCreateOptions) (domain.Account, error) {
	if !policy.CanCreate(actor, domain.KindAccount) {
		return domain.Account{}, policy.ForbiddenError{Action: "create", Kind: domain.KindAccount}
	}
	if opts.Role == "" {
		opts.Role = domain.RoleUser
	}
	opts.ActorID = actor.ID
	return s.createAccount(ctx, events.AccountCreated, opts)
}

// BootstrapAdmin creates the configured admin account if no account with
// that username exists yet.
func (s Service) BootstrapAdmin(ctx context.Context) (bool, error) {
	b := s.Config.BootstrapAdmin
	if strings.TrimSpace(b.Username) == "" {
		return false, nil
	}
	if _, _, err := s.Repo.GetCredentials(ctx, strings.TrimSpace(b.Username)); err == nil {
		return false, nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return false, err
	}
	_, err := s.createAccount(ctx, events.AccountBootstrap, AccountCreateOptions{
		Username:   b.Username,
		Password:   b.Password,
		Department: b.Department,
		Role:       domain.RoleAdmin,
	})
	if errors.Is(err, repo.ErrConflict) {
		return false, nil
	}
	return err == nil, err
}

func (s Service) createAccount(ctx context.Context, evtType string, opts AccountCreateOptions) (domain.Account, error) {
	username := strings.TrimSpace(opts.Username)
	if username == "" {
		return domain.Account{}, domain.FieldError{Field: "username", Reason: "username is required"}
	}
	if len(username) > maxUsernameLen {
		return domain.Account{}, domain.FieldError{Field: "username", Reason: fmt.Sprintf("at most %d characters", maxUsernameLen)}
	}
	if opts.Password == "" {
		return domain.Account{}, domain.FieldError{Field: "password", Reason: "password is required"}
	}
	if !opts.Role.Valid() {
		return domain.Account{}, domain.FieldError{Field: domain.FieldRole, Reason: "must be one of user, manager, admin"}
	}
	dep := strings.TrimSpace(opts.Department)
	if dep != "" && !s.Config.KnownDepartment(dep) {
		return domain.Account{}, domain.FieldError{Field: domain.FieldDepartment, Reason: fmt.Sprintf("unknown department %q", dep)}
	}
	cost := s.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), cost)
	if err != nil {
		return domain.Account{}, fmt.Errorf("hash password: %w", err)
	}
	a := domain.Account{
		ID:         s.newID(),
		Username:   username,
		Role:       opts.Role,
		Department: dep,
		CreatedAt:  s.stamp(),
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()

	if err := s.Repo.InsertAccount(ctx, tx, a, string(hash)); err != nil {
		return domain.Account{}, err
	}
	actorID := opts.ActorID
	if actorID == "" {
		actorID = a.ID
	}
	if err := s.events().Append(ctx, tx, evtType, string(domain.KindAccount), a.ID, actorID, events.EventPayload{
		"username":   a.Username,
		"role":       string(a.Role),
		"department": a.Department,
	}); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// Authenticate checks a username and password.
func (s Service) Authenticate(ctx context.Context, username, password string) (domain.Account, error) {
	a, hash, err := s.Repo.GetCredentials(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Account{}, ErrInvalidCredentials
		}
		return domain.Account{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return domain.Account{}, ErrInvalidCredentials
	}
	return a, nil
}

// VisibleAccounts lists the accounts actor may see.
func (s Service) VisibleAccounts(ctx context.Context, actor domain.Actor) ([]domain.Account, error) {
	all, err := s.Repo.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Account, 0, len(all))
	for _, a := range all {
		if policy.CanView(actor, a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// UpdateAccount applies a partial role/department update. Each present field
// is authorized as its own action.
func (s Service) UpdateAccount(ctx context.Context, actor domain.Actor, id string, fields domain.Fields) (domain.Account, error) {
	if len(fields) == 0 {
		return domain.Account{}, domain.FieldError{Field: "body", Reason: "no fields to update"}
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()

	cur, err := s.Repo.GetAccountTx(ctx, tx, id)
	if err != nil {
		return domain.Account{}, err
	}
	for _, name := range fields.Names() {
		action := policy.ActionChangeDepartment
		if name == domain.FieldRole {
			action = policy.ActionChangeRole
		}
		if err := policy.Authorize(actor, cur, action); err != nil {
			return domain.Account{}, err
		}
	}
	if v, ok := fields[domain.FieldDepartment].(string); ok {
		dep := strings.TrimSpace(v)
		if dep == "" {
			return domain.Account{}, domain.FieldError{Field: domain.FieldDepartment, Reason: "department is required"}
		}
		if !s.Config.KnownDepartment(dep) {
			return domain.Account{}, domain.FieldError{Field: domain.FieldDepartment, Reason: fmt.Sprintf("unknown department %q", dep)}
		}
		fields = fields.Clone()
		fields[domain.FieldDepartment] = dep
	}
	next, err := cur.Merge(fields)
	if err != nil {
		return domain.Account{}, err
	}
	updated := next.(domain.Account)
	if err := s.Repo.UpdateAccount(ctx, tx, updated); err != nil {
		return domain.Account{}, err
	}
	if err := s.events().Append(ctx, tx, events.AccountUpdated, string(domain.KindAccount), id, actor.ID, events.EventPayload(updated.Fields())); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, err
	}
	return updated, nil
}

// DeleteAccount removes an account and, through the foreign key, its tasks.
func (s Service) DeleteAccount(ctx context.Context, actor domain.Actor, id string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cur, err := s.Repo.GetAccountTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := policy.Authorize(actor, cur, policy.ActionDelete); err != nil {
		return err
	}
	owned, err := s.Repo.ListTasksByOwnerTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := s.Repo.DeleteAccount(ctx, tx, id); err != nil {
		return err
	}
	if err := s.events().Append(ctx, tx, events.AccountDeleted, string(domain.KindAccount), id, actor.ID, events.EventPayload{
		"username":      cur.Username,
		"tasks_removed": len(owned),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// AuditLog lists audit events, newest first. Only admins read the log.
func (s Service) AuditLog(ctx context.Context, actor domain.Actor, entityKind, entityID string, limit int) ([]events.Event, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, policy.ForbiddenError{Action: "read", Kind: "event"}
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.Events.List(ctx, entityKind, entityID, limit)
}
