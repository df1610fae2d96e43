// Package imap implements the mail transport on top of go-imap.
package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/nhle/redeemer/internal/model"
	"github.com/nhle/redeemer/internal/transport"
)

// gmailLabelsAdd is the STORE item of the Gmail X-GM-LABELS extension.
const gmailLabelsAdd goimap.StoreItem = "+X-GM-LABELS"

const defaultTimeout = 30 * time.Second

// Dialer connects to IMAP servers over implicit TLS.
type Dialer struct {
	// TLSConfig overrides the TLS settings. ServerName defaults to the host.
	TLSConfig *tls.Config

	// Timeout bounds dialing and login. Zero means 30 seconds.
	Timeout time.Duration

	// Plaintext disables TLS. Only meant for local test servers.
	Plaintext bool
}

var _ transport.Dialer = (*Dialer)(nil)

// Connect dials host:port and returns an unauthenticated session. The
// caller is responsible for calling Logout on the returned session.
func (d *Dialer) Connect(
	ctx context.Context, host string, port int,
) (transport.Session, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	if err := ctx.Err(); err != nil {
		return nil, &transport.ConnectError{Addr: addr, Err: err}
	}

	timeout := d.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	var (
		c   *client.Client
		err error
	)
	if d.Plaintext {
		c, err = client.DialWithDialer(dialer, addr)
	} else {
		tlsConfig := &tls.Config{ServerName: host}
		if d.TLSConfig != nil {
			tlsConfig = d.TLSConfig.Clone()
			if tlsConfig.ServerName == "" {
				tlsConfig.ServerName = host
			}
		}
		c, err = client.DialWithDialerTLS(dialer, addr, tlsConfig)
	}
	if err != nil {
		return nil, &transport.ConnectError{Addr: addr, Err: err}
	}

	return &Session{client: c, addr: addr, timeout: timeout}, nil
}

// Session is a transport.Session backed by a go-imap client. Message IDs
// are UIDs so they stay valid while messages are flagged.
type Session struct {
	client  *client.Client
	addr    string
	timeout time.Duration
	mailbox string
}

var _ transport.Session = (*Session)(nil)

// Login authenticates the session.
func (s *Session) Login(ctx context.Context, user, pass string) error {
	if err := ctx.Err(); err != nil {
		return &transport.AuthError{User: user, Err: err}
	}

	s.client.Timeout = s.timeout
	defer func() { s.client.Timeout = 0 }()

	if err := s.client.Login(user, pass); err != nil {
		return &transport.AuthError{User: user, Err: err}
	}
	return nil
}

// Select opens mailbox read-write.
func (s *Session) Select(ctx context.Context, mailbox string) (uint32, error) {
	if err := s.check(ctx, transport.OpSelect); err != nil {
		return 0, err
	}

	status, err := s.client.Select(mailbox, false)
	if err != nil {
		return 0, &transport.OperationError{
			Op:      transport.OpSelect,
			Mailbox: mailbox,
			Err:     err,
		}
	}
	s.mailbox = mailbox
	return status.Messages, nil
}

// Search returns the UIDs of messages whose From header contains sender.
func (s *Session) Search(
	ctx context.Context, sender string,
) ([]model.MessageID, error) {
	if err := s.check(ctx, transport.OpSearch); err != nil {
		return nil, err
	}

	criteria := goimap.NewSearchCriteria()
	criteria.Header.Add("From", sender)

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, s.opErr(transport.OpSearch, err)
	}

	ids := make([]model.MessageID, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, model.MessageID(uid))
	}
	return ids, nil
}

// Fetch returns the full message using BODY.PEEK[] so \Seen is untouched.
func (s *Session) Fetch(
	ctx context.Context, id model.MessageID,
) ([]byte, error) {
	if err := s.check(ctx, transport.OpFetch); err != nil {
		return nil, err
	}

	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{goimap.FetchUid, section.FetchItem()}

	messages := make(chan *goimap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(uidSet(id), items, messages)
	}()

	var (
		raw     []byte
		readErr error
	)
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil || raw != nil {
			continue
		}
		raw, readErr = io.ReadAll(body)
	}

	if err := <-done; err != nil {
		return nil, s.opErr(transport.OpFetch, err)
	}
	if readErr != nil {
		return nil, s.opErr(transport.OpFetch, fmt.Errorf("reading UID %d: %w", id, readErr))
	}
	if raw == nil {
		return nil, s.opErr(transport.OpFetch, fmt.Errorf("message UID %d not found", id))
	}
	return raw, nil
}

// MarkFlag adds flag to a single message.
func (s *Session) MarkFlag(
	ctx context.Context, id model.MessageID, flag transport.Flag,
) error {
	if err := s.check(ctx, transport.OpMark); err != nil {
		return err
	}

	item := goimap.FormatFlagsOp(goimap.AddFlags, true)
	if err := s.client.UidStore(uidSet(id), item, []interface{}{string(flag)}, nil); err != nil {
		return s.opErr(transport.OpMark, fmt.Errorf("flagging UID %d %s: %w", id, flag, err))
	}
	return nil
}

// MarkLabel adds a Gmail label to a single message.
func (s *Session) MarkLabel(
	ctx context.Context, id model.MessageID, label transport.Label,
) error {
	if err := s.check(ctx, transport.OpMark); err != nil {
		return err
	}

	if err := s.client.UidStore(uidSet(id), gmailLabelsAdd, []interface{}{string(label)}, nil); err != nil {
		return s.opErr(transport.OpMark, fmt.Errorf("labelling UID %d %s: %w", id, label, err))
	}
	return nil
}

// BulkMarkFlag adds flag to every message in the sequence range.
func (s *Session) BulkMarkFlag(
	ctx context.Context, rng transport.SeqRange, flag transport.Flag,
) error {
	if err := s.check(ctx, transport.OpBulkMark); err != nil {
		return err
	}

	seqSet, err := goimap.ParseSeqSet(string(rng))
	if err != nil {
		return s.opErr(transport.OpBulkMark, fmt.Errorf("parsing range %q: %w", rng, err))
	}

	item := goimap.FormatFlagsOp(goimap.AddFlags, true)
	if err := s.client.Store(seqSet, item, []interface{}{string(flag)}, nil); err != nil {
		return s.opErr(transport.OpBulkMark, err)
	}
	return nil
}

// Expunge permanently removes messages flagged \Deleted.
func (s *Session) Expunge(ctx context.Context) error {
	if err := s.check(ctx, transport.OpExpunge); err != nil {
		return err
	}

	if err := s.client.Expunge(nil); err != nil {
		return s.opErr(transport.OpExpunge, err)
	}
	return nil
}

// Close deselects the current mailbox.
func (s *Session) Close(_ context.Context) error {
	if s.mailbox == "" {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return s.opErr(transport.OpClose, err)
	}
	s.mailbox = ""
	return nil
}

// Logout ends the session. It is safe to call after a failed login.
func (s *Session) Logout(_ context.Context) error {
	if s.client.State() == goimap.LogoutState {
		return nil
	}

	s.client.Timeout = 5 * time.Second
	if err := s.client.Logout(); err != nil {
		_ = s.client.Terminate()
		return &transport.OperationError{Op: transport.OpLogout, Err: err}
	}
	return nil
}

func (s *Session) check(ctx context.Context, op transport.Op) error {
	if err := ctx.Err(); err != nil {
		return s.opErr(op, err)
	}
	return nil
}

func (s *Session) opErr(op transport.Op, err error) error {
	return &transport.OperationError{Op: op, Mailbox: s.mailbox, Err: err}
}

func uidSet(id model.MessageID) *goimap.SeqSet {
	set := new(goimap.SeqSet)
	set.AddNum(uint32(id))
	return set
}
