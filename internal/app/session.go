// Package app wires a signed-in client session: the remote transport, the
// session actor and one coordinator per resource collection.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine"
	"taskdesk/internal/remote"
)

// ErrNoToken is returned by Open when no token was given or saved.
var ErrNoToken = errors.New("not logged in; run taskdesk login")

type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	Logger     *slog.Logger
	HTTPClient *http.Client
	// OnTransition observes every request state change of both engines.
	OnTransition func(engine.Transition)
}

// Session is valid for one actor. A role or department change of the signed
// in account takes effect only in a new Session.
type Session struct {
	Client   *remote.Client
	Account  domain.Account
	Tasks    *engine.Engine
	Accounts *engine.Engine
}

// Open resolves the actor behind opts.Token and builds both engines. The
// stores start empty; call Reload to fetch them.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, ErrNoToken
	}
	client := remote.New(opts.BaseURL, opts.Token)
	if opts.HTTPClient != nil {
		client.HTTPClient = opts.HTTPClient
	}
	if opts.Timeout > 0 {
		client.Timeout = opts.Timeout
	}
	meCtx, cancel := context.WithTimeout(ctx, client.Timeout)
	defer cancel()
	me, err := client.Me(meCtx)
	if err != nil {
		return nil, engine.FromRemote(engine.OpSession, domain.KindAccount, err)
	}
	engOpts := engine.Options{
		Timeout:      opts.Timeout,
		Logger:       opts.Logger,
		OnTransition: opts.OnTransition,
	}
	return &Session{
		Client:   client,
		Account:  me,
		Tasks:    engine.New(domain.KindTask, client, engOpts),
		Accounts: engine.New(domain.KindAccount, client, engOpts),
	}, nil
}

// Actor is the session actor every request is authorized as.
func (s *Session) Actor() domain.Actor { return s.Account.Actor() }

// Engine returns the coordinator for kind.
func (s *Session) Engine(kind domain.Kind) (*engine.Engine, error) {
	switch kind {
	case domain.KindTask:
		return s.Tasks, nil
	case domain.KindAccount:
		return s.Accounts, nil
	}
	return nil, fmt.Errorf("unknown resource kind %q", kind)
}

// Reload fetches the given collections, or both when none are named.
func (s *Session) Reload(ctx context.Context, kinds ...domain.Kind) error {
	if len(kinds) == 0 {
		kinds = []domain.Kind{domain.KindTask, domain.KindAccount}
	}
	for _, k := range kinds {
		e, err := s.Engine(k)
		if err != nil {
			return err
		}
		if err := e.Reload(ctx); err != nil {
			return err
		}
	}
	return nil
}

// TokenPath is where login stores the bearer token.
func TokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "taskdesk", "token"), nil
}

// SaveToken writes token to path with owner-only permissions.
func SaveToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strings.TrimSpace(token)+"\n"), 0o600)
}

// LoadToken reads a saved token; a missing file yields "".
func LoadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
