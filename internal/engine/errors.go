package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine/store"
	"taskdesk/internal/engine/tracker"
	"taskdesk/internal/remote"
)

// ErrorKind classifies why a mutation was rejected.
type ErrorKind string

const (
	KindForbidden       ErrorKind = "forbidden"
	KindConflict        ErrorKind = "conflict"
	KindTimeout         ErrorKind = "timeout"
	KindRemoteRejected  ErrorKind = "remote_rejected"
	KindNotFound        ErrorKind = "not_found"
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindInvalid         ErrorKind = "invalid"
)

var (
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("operation already in flight")
	ErrTimeout         = errors.New("remote call timed out")
	ErrRemoteRejected  = errors.New("rejected by server")
	ErrNotFound        = errors.New("not found")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalid         = errors.New("invalid input")
)

var kindSentinels = map[ErrorKind]error{
	KindForbidden:       ErrForbidden,
	KindConflict:        ErrConflict,
	KindTimeout:         ErrTimeout,
	KindRemoteRejected:  ErrRemoteRejected,
	KindNotFound:        ErrNotFound,
	KindUnauthenticated: ErrUnauthenticated,
	KindInvalid:         ErrInvalid,
}

// RejectedError is returned by every request that ends in the Rejected
// state. errors.Is matches both the kind sentinel and the wrapped cause.
type RejectedError struct {
	Kind     ErrorKind
	Op       tracker.Kind
	Resource domain.Kind
	ID       string
	Err      error
}

func (e *RejectedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Op, e.Resource)
	if e.ID != "" {
		fmt.Fprintf(&b, " %s", e.ID)
	}
	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RejectedError) Unwrap() error { return e.Err }

func (e *RejectedError) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the rejection kind carried by err, or "" when err is not a
// RejectedError.
func KindOf(err error) ErrorKind {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// classify maps a transport failure onto the rejection taxonomy.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, remote.ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, remote.ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, remote.ErrUnavailable):
		return KindTimeout
	}
	return KindRemoteRejected
}

// localKind maps errors raised before any remote call.
func localKind(err error) ErrorKind {
	if errors.Is(err, store.ErrNotFound) {
		return KindNotFound
	}
	return KindInvalid
}

// Message renders err for an operator. Each rejection kind reads
// differently so "not allowed", "bad data" and "no response" are never
// confused.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var re *RejectedError
	if !errors.As(err, &re) {
		return err.Error()
	}
	noun := string(re.Resource)
	if noun == "" {
		noun = "item"
	}
	switch re.Kind {
	case KindForbidden:
		return fmt.Sprintf("You are not allowed to %s this %s.", verb(re.Op), noun)
	case KindConflict:
		return fmt.Sprintf("A %s of this %s is already in progress; wait for it to finish.", re.Op, noun)
	case KindTimeout:
		return "The service did not respond in time. Your changes are kept; try again."
	case KindRemoteRejected:
		return fmt.Sprintf("The server rejected your data: %s", cause(re))
	case KindNotFound:
		return fmt.Sprintf("This %s no longer exists.", noun)
	case KindUnauthenticated:
		return "Your session has expired. Log in again."
	case KindInvalid:
		return fmt.Sprintf("Invalid input: %s", cause(re))
	}
	return re.Error()
}

func verb(op tracker.Kind) string {
	switch op {
	case tracker.KindSave:
		return "edit"
	case tracker.KindDelete:
		return "delete"
	case tracker.KindRoleChange:
		return "change the role of"
	case tracker.KindDepartmentChange:
		return "change the department of"
	case tracker.KindCreate:
		return "create"
	}
	return string(op)
}

func cause(re *RejectedError) string {
	if re.Err == nil {
		return string(re.Kind)
	}
	var apiErr *remote.APIError
	if errors.As(re.Err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return re.Err.Error()
}

// FromRemote classifies a transport error raised outside a mutation, such as
// resolving the session actor.
func FromRemote(op tracker.Kind, resource domain.Kind, err error) error {
	if err == nil {
		return nil
	}
	return &RejectedError{Kind: classify(err), Op: op, Resource: resource, Err: err}
}
