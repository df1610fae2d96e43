// Package transport defines the mail transport the redeemer consumes.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/redeemer/internal/model"
)

// Flag is an IMAP system or keyword flag.
type Flag string

// Label is a Gmail label as understood by the X-GM-LABELS extension.
type Label string

const (
	// FlagDeleted marks a message for removal on the next expunge.
	FlagDeleted Flag = `\Deleted`

	// LabelTrash moves a Gmail message into the Trash view.
	LabelTrash Label = `\Trash`
)

// SeqRange is a message sequence range in IMAP syntax.
type SeqRange string

// AllMessages addresses every message in the selected mailbox.
const AllMessages SeqRange = "1:*"

// Op names a transport operation for error reporting.
type Op string

const (
	OpSelect   Op = "select"
	OpSearch   Op = "search"
	OpFetch    Op = "fetch"
	OpMark     Op = "mark"
	OpBulkMark Op = "bulk-mark"
	OpExpunge  Op = "expunge"
	OpClose    Op = "close"
	OpLogout   Op = "logout"
)

// ConnectError indicates the server could not be reached.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// AuthError indicates the server rejected the credentials.
type AuthError struct {
	User string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.User, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// OperationError wraps a failure of a command on an established session.
type OperationError struct {
	Op      Op
	Mailbox string
	Err     error
}

func (e *OperationError) Error() string {
	if e.Mailbox != "" {
		return fmt.Sprintf("%s on %q: %v", e.Op, e.Mailbox, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// IsConnectError reports whether err (or any error in its chain) is a
// ConnectError.
func IsConnectError(err error) bool {
	var connErr *ConnectError
	return errors.As(err, &connErr)
}

// IsAuthError reports whether err (or any error in its chain) is an
// AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsOperationError reports whether err (or any error in its chain) is an
// OperationError for op. An empty op matches any operation.
func IsOperationError(err error, op Op) bool {
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		return false
	}
	return op == "" || opErr.Op == op
}

// Dialer opens transport sessions.
type Dialer interface {
	// Connect opens a TLS-secured session to host:port.
	Connect(ctx context.Context, host string, port int) (Session, error)
}

// Session is one authenticated conversation with a mail server. A session
// is used by a single owner and is not safe for concurrent use.
type Session interface {
	Login(ctx context.Context, user, pass string) error

	// Select opens mailbox and returns the number of messages in it.
	Select(ctx context.Context, mailbox string) (uint32, error)

	// Search returns the IDs of messages from sender in server order.
	Search(ctx context.Context, sender string) ([]model.MessageID, error)

	// Fetch returns the full raw message without altering its flags.
	Fetch(ctx context.Context, id model.MessageID) ([]byte, error)

	MarkFlag(ctx context.Context, id model.MessageID, flag Flag) error
	MarkLabel(ctx context.Context, id model.MessageID, label Label) error

	// BulkMarkFlag adds flag to every message in rng of the selected
	// mailbox.
	BulkMarkFlag(ctx context.Context, rng SeqRange, flag Flag) error

	Expunge(ctx context.Context) error

	// Close deselects the current mailbox.
	Close(ctx context.Context) error

	// Logout ends the session and releases the connection.
	Logout(ctx context.Context) error
}
