package redeem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nhle/redeemer/internal/dispatch"
	"github.com/nhle/redeemer/internal/model"
	"github.com/nhle/redeemer/internal/transport"
)

const (
	linkA = "https://dondino.de/link/?abc123"
	linkB = "https://dondino.de/link/?xyz789"
)

var errBoom = errors.New("boom")

// recorder is the shared, ordered event log of all fakes in a test.
type recorder struct {
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func htmlMail(link string) string {
	return "From: Dondino <info@dondino.de>\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		`<p><a href="` + link + `">Hier klicken</a></p>` + "\r\n"
}

func plainMail(body string) string {
	return "From: Dondino <info@dondino.de>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body + "\r\n"
}

// brokenPartMail is multipart/alternative whose text/plain part is not
// valid base64, followed by an html part with the given body.
func brokenPartMail(html string) string {
	return "From: Dondino <info@dondino.de>\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"%%%% kein base64 %%%%\r\n" +
		"--b1\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		html + "\r\n" +
		"--b1--\r\n"
}

type fakeDialer struct {
	rec      *recorder
	sessions map[string]*fakeSession
	errs     map[string]error
}

func (d *fakeDialer) Connect(
	_ context.Context, host string, port int,
) (transport.Session, error) {
	d.rec.add("connect %s:%d", host, port)
	if err := d.errs[host]; err != nil {
		return nil, &transport.ConnectError{Addr: host, Err: err}
	}
	return d.sessions[host], nil
}

type fakeSession struct {
	rec *recorder

	// ids is returned by Search in this order.
	ids []model.MessageID
	raw map[model.MessageID]string

	// counts overrides the message count returned by Select per mailbox.
	counts map[string]uint32

	// fail maps an event string to the error that operation returns.
	fail map[string]error
}

func (s *fakeSession) do(format string, args ...any) error {
	event := fmt.Sprintf(format, args...)
	s.rec.add("%s", event)
	return s.fail[event]
}

func (s *fakeSession) Login(_ context.Context, user, _ string) error {
	if err := s.do("login %s", user); err != nil {
		return &transport.AuthError{User: user, Err: err}
	}
	return nil
}

func (s *fakeSession) Select(_ context.Context, mailbox string) (uint32, error) {
	if err := s.do("select %s", mailbox); err != nil {
		return 0, &transport.OperationError{Op: transport.OpSelect, Mailbox: mailbox, Err: err}
	}
	if n, ok := s.counts[mailbox]; ok {
		return n, nil
	}
	return uint32(len(s.ids)), nil
}

func (s *fakeSession) Search(_ context.Context, sender string) ([]model.MessageID, error) {
	if err := s.do("search %s", sender); err != nil {
		return nil, &transport.OperationError{Op: transport.OpSearch, Err: err}
	}
	return append([]model.MessageID(nil), s.ids...), nil
}

func (s *fakeSession) Fetch(_ context.Context, id model.MessageID) ([]byte, error) {
	if err := s.do("fetch %d", id); err != nil {
		return nil, &transport.OperationError{Op: transport.OpFetch, Err: err}
	}
	return []byte(s.raw[id]), nil
}

func (s *fakeSession) MarkFlag(_ context.Context, id model.MessageID, flag transport.Flag) error {
	if err := s.do("flag %d %s", id, flag); err != nil {
		return &transport.OperationError{Op: transport.OpMark, Err: err}
	}
	return nil
}

func (s *fakeSession) MarkLabel(_ context.Context, id model.MessageID, label transport.Label) error {
	if err := s.do("label %d %s", id, label); err != nil {
		return &transport.OperationError{Op: transport.OpMark, Err: err}
	}
	return nil
}

func (s *fakeSession) BulkMarkFlag(_ context.Context, rng transport.SeqRange, flag transport.Flag) error {
	if err := s.do("bulk %s %s", rng, flag); err != nil {
		return &transport.OperationError{Op: transport.OpBulkMark, Err: err}
	}
	return nil
}

func (s *fakeSession) Expunge(context.Context) error {
	if err := s.do("expunge"); err != nil {
		return &transport.OperationError{Op: transport.OpExpunge, Err: err}
	}
	return nil
}

func (s *fakeSession) Close(context.Context) error {
	return s.do("close")
}

func (s *fakeSession) Logout(context.Context) error {
	return s.do("logout")
}

type fakeLauncher struct {
	rec  *recorder
	err  error
	fail map[string]error
}

func (l *fakeLauncher) Open(_ context.Context, opts model.BrowserOptions) (dispatch.Browser, error) {
	l.rec.add("launch headless=%t", opts.Headless)
	if l.err != nil {
		return nil, &dispatch.LaunchError{Err: l.err}
	}
	return &fakeBrowser{rec: l.rec, fail: l.fail}, nil
}

type fakeBrowser struct {
	rec  *recorder
	fail map[string]error
}

func (b *fakeBrowser) do(format string, args ...any) error {
	event := fmt.Sprintf(format, args...)
	b.rec.add("%s", event)
	return b.fail[event]
}

func (b *fakeBrowser) Navigate(_ context.Context, url string) error {
	return b.do("navigate %s", url)
}

func (b *fakeBrowser) OpenTab(_ context.Context, url string) error {
	return b.do("tab %s", url)
}

func (b *fakeBrowser) Close() error {
	return b.do("browser-close")
}

// harness wires a Service to fakes that share one recorder.
type harness struct {
	rec      *recorder
	dialer   *fakeDialer
	launcher *fakeLauncher
	svc      *Service
}

func newHarness() *harness {
	rec := &recorder{}
	h := &harness{
		rec: rec,
		dialer: &fakeDialer{
			rec:      rec,
			sessions: map[string]*fakeSession{},
			errs:     map[string]error{},
		},
		launcher: &fakeLauncher{rec: rec, fail: map[string]error{}},
	}
	h.svc = &Service{
		Dialer:   h.dialer,
		Launcher: h.launcher,
		Log:      log.New(io.Discard),
		Sleep:    func(d time.Duration) { rec.add("sleep %s", d) },
	}
	return h
}

// mailbox registers a session for host holding the given mails in order.
func (h *harness) mailbox(host string, mails ...string) *fakeSession {
	sess := &fakeSession{
		rec:    h.rec,
		raw:    map[model.MessageID]string{},
		counts: map[string]uint32{},
		fail:   map[string]error{},
	}
	for i, mail := range mails {
		id := model.MessageID(i + 1)
		sess.ids = append(sess.ids, id)
		sess.raw[id] = mail
	}
	h.dialer.sessions[host] = sess
	return sess
}

func section(name, host string, autoPrune bool) model.MailboxSection {
	return model.MailboxSection{
		Name:      name,
		Host:      host,
		Port:      model.DefaultPort,
		User:      "me",
		Pass:      "secret",
		Mailbox:   model.DefaultMailbox,
		AutoPrune: autoPrune,
	}
}
