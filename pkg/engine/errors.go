package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pakmux/pakmux/pkg/backend"
	"github.com/pakmux/pakmux/pkg/privilege"
	"github.com/pakmux/pakmux/pkg/txn"
	"github.com/pakmux/pakmux/pkg/version"
)

// Kind classifies engine failures. Each kind maps to a fixed process
// exit code so scripts can branch on what went wrong without parsing
// error text.
type Kind string

const (
	// KindBackendUnavailable means no backend on this host can serve
	// the requested action.
	KindBackendUnavailable Kind = "backend_unavailable"

	// KindBackendError means a backend ran and failed, or the target
	// was not found in any available backend.
	KindBackendError Kind = "backend_error"

	// KindUnresolvedVersion means no language version could be
	// resolved for the invocation.
	KindUnresolvedVersion Kind = "unresolved_version"

	// KindPrivilegeDenied means the privilege arbiter refused to run
	// the operation at the level it needs.
	KindPrivilegeDenied Kind = "privilege_denied"

	// KindLockTimeout means the process lock could not be acquired
	// before the deadline.
	KindLockTimeout Kind = "lock_timeout"

	// KindTransactionFailed means the transaction journal could not
	// record, commit, or recover an operation.
	KindTransactionFailed Kind = "transaction_failed"

	// KindCancelled means the operation stopped on interrupt or
	// context cancellation after a controlled rollback.
	KindCancelled Kind = "cancelled"

	// KindInternal covers everything else.
	KindInternal Kind = "internal"
)

// ExitCode returns the process exit code for the kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindBackendUnavailable:
		return 10
	case KindBackendError:
		return 11
	case KindUnresolvedVersion:
		return 12
	case KindPrivilegeDenied:
		return 13
	case KindLockTimeout:
		return 14
	case KindTransactionFailed:
		return 15
	case KindCancelled:
		return 130
	default:
		return 1
	}
}

// Error is the engine's typed failure. It carries what was being done
// and to what, the underlying cause, and the rollback report when a
// transaction was unwound on the way out.
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Message is a short human-readable summary.
	Message string

	// Operation is the action that failed, e.g. "install ripgrep".
	Operation string

	// Resource is the target the failure is about, when one target can
	// be named.
	Resource string

	// Report describes the rollback performed after the failure, nil
	// when nothing had to be unwound.
	Report *txn.RollbackReport

	// Err is the underlying cause.
	Err error
}

// NewError creates an engine error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithOperation records the action that failed.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithResource records the target the failure is about.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithReport attaches the rollback report produced while unwinding.
func (e *Error) WithReport(report *txn.RollbackReport) *Error {
	e.Report = report
	return e
}

// Wrap attaches the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Kind, e.Message))

	var details []string
	if e.Resource != "" {
		details = append(details, fmt.Sprintf("resource=%s", e.Resource))
	}
	if e.Operation != "" {
		details = append(details, fmt.Sprintf("operation=%s", e.Operation))
	}
	if len(details) > 0 {
		sb.WriteString(fmt.Sprintf(" (%s)", strings.Join(details, ", ")))
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	if e.Report != nil && !e.Report.Complete() {
		sb.WriteString("; ")
		sb.WriteString(e.Report.String())
	}
	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches engine errors by kind, so callers can compare against
// NewError(KindLockTimeout, "") with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// AsError extracts the engine error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// ExitCode maps any error to a process exit code: nil is 0, engine
// errors use their kind's code, and raw collaborator sentinels are
// classified first, so a bare lock timeout or unresolved version still
// exits with its own code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if e, ok := AsError(err); ok {
		return e.Kind.ExitCode()
	}
	return classify(err).ExitCode()
}

// classify maps a cause from a collaborator to the engine kind that
// owns it.
func classify(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, txn.ErrLockTimeout):
		return KindLockTimeout
	case errors.Is(err, privilege.ErrDenied):
		return KindPrivilegeDenied
	case errors.Is(err, version.ErrUnresolved):
		return KindUnresolvedVersion
	default:
		var berr *backend.Error
		if errors.As(err, &berr) {
			return KindBackendError
		}
		return KindInternal
	}
}

// wrapError lifts a collaborator failure into an engine error,
// preserving an existing one.
func wrapError(op, message string, err error) *Error {
	if e, ok := AsError(err); ok {
		if e.Operation == "" {
			e.Operation = op
		}
		return e
	}
	return NewError(classify(err), message).WithOperation(op).Wrap(err)
}
