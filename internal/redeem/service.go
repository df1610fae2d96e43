// Package redeem scans mailboxes for paid referral mails, opens their
// redemption links in a browser and prunes the processed mails.
package redeem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nhle/redeemer/internal/dispatch"
	"github.com/nhle/redeemer/internal/extract"
	"github.com/nhle/redeemer/internal/model"
	"github.com/nhle/redeemer/internal/transport"
)

// KnownSender is the address paid mails are sent from.
const KnownSender = "info@dondino.de"

// SettleInterval is how long the browser stays open after the last tab
// was opened. Tab loads cannot be observed, so this is a fixed wait.
const SettleInterval = 120 * time.Second

// Stage names the step of a section run that failed.
type Stage string

const (
	StageConnect  Stage = "connect"
	StageLogin    Stage = "login"
	StageSelect   Stage = "select"
	StageSearch   Stage = "search"
	StageFetch    Stage = "fetch"
	StagePrune    Stage = "prune"
	StageLaunch   Stage = "launch"
	StageDispatch Stage = "dispatch"
	StageFinalize Stage = "finalize"
)

// SectionError records why a section was aborted. Marks applied before the
// failure stay in place until a later run expunges them.
type SectionError struct {
	Section   string
	Stage     Stage
	MessageID model.MessageID
	Err       error
}

func (e *SectionError) Error() string {
	if e.MessageID != 0 {
		return fmt.Sprintf("section %q: %s UID %d: %v", e.Section, e.Stage, e.MessageID, e.Err)
	}
	return fmt.Sprintf("section %q: %s: %v", e.Section, e.Stage, e.Err)
}

func (e *SectionError) Unwrap() error { return e.Err }

// StageOf returns the stage of a SectionError in err's chain.
func StageOf(err error) (Stage, bool) {
	var secErr *SectionError
	if !errors.As(err, &secErr) {
		return "", false
	}
	return secErr.Stage, true
}

// SectionResult summarizes one processed section.
type SectionResult struct {
	Section  string
	Provider model.ProviderKind

	// Found is the number of mails from the known sender.
	Found int

	// Links is the number of links handed to the browser.
	Links int

	// Marked is the number of mails marked for deletion.
	Marked int

	// Unreadable is the number of mails kept because a part could not be
	// decoded and no link was found in the rest.
	Unreadable int

	// Finalized is true once marked mails were expunged.
	Finalized bool

	// Err is set when the section was aborted.
	Err error
}

// Service processes mailbox sections one at a time.
type Service struct {
	Dialer   transport.Dialer
	Launcher dispatch.Launcher
	Log      *log.Logger

	// Sleep performs the settle wait. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// NewService returns a Service that waits with time.Sleep.
func NewService(d transport.Dialer, l dispatch.Launcher, logger *log.Logger) *Service {
	return &Service{
		Dialer:   d,
		Launcher: l,
		Log:      logger,
		Sleep:    time.Sleep,
	}
}

// ProcessSection runs one section end to end: scan the mailbox, collect
// links, open them in one browser session, then finalize deletions. The
// transport session is always logged out and the browser always closed,
// whether the section completes or aborts.
func (s *Service) ProcessSection(
	ctx context.Context, sec model.MailboxSection,
) (res SectionResult, err error) {
	logger := s.logger().With("section", sec.Name)
	res = SectionResult{Section: sec.Name, Provider: sec.Provider()}

	defer func() {
		if err != nil {
			res.Err = err
		}
	}()

	abort := func(stage Stage, id model.MessageID, cause error) error {
		return &SectionError{Section: sec.Name, Stage: stage, MessageID: id, Err: cause}
	}

	logger.Info("connecting to IMAP server", "host", sec.Host, "port", sec.Port)
	sess, err := s.Dialer.Connect(ctx, sec.Host, sec.Port)
	if err != nil {
		return res, abort(StageConnect, 0, err)
	}

	completed := false
	defer func() { s.release(ctx, logger, sess, completed) }()

	if err := sess.Login(ctx, sec.User, sec.Pass); err != nil {
		return res, abort(StageLogin, 0, err)
	}

	logger.Info("selecting mailbox", "mailbox", sec.Mailbox)
	if _, err := sess.Select(ctx, sec.Mailbox); err != nil {
		return res, abort(StageSelect, 0, err)
	}

	ids, err := sess.Search(ctx, KnownSender)
	if err != nil {
		return res, abort(StageSearch, 0, err)
	}
	res.Found = len(ids)
	logger.Info("searched for sender mails", "sender", KnownSender, "found", len(ids))

	if len(ids) == 0 {
		completed = true
		return res, nil
	}

	policy := DeletionPolicyFor(sec.Provider(), sec.TrashMailbox)

	links, err := s.scan(ctx, logger, sec, sess, policy, ids, &res)
	if err != nil {
		return res, err
	}

	if links.Len() == 0 {
		logger.Info("no paid links found")
	} else {
		logger.Info("found paid links", "links", links.Len())
		if links.Len() != len(ids) {
			logger.Info(
				"some sender mails carry no paid link (bonus or info mails)",
				"mails", len(ids), "links", links.Len(),
			)
		}
		if err := s.dispatch(ctx, logger, sec, sess, policy, links, &res); err != nil {
			return res, err
		}
	}

	if sec.AutoPrune {
		logger.Info("deleting processed mails", "provider", policy.Kind(), "marked", res.Marked)
		if err := policy.Finalize(ctx, sess); err != nil {
			return res, abort(StageFinalize, 0, err)
		}
		res.Finalized = true
	}

	completed = true
	return res, nil
}

// scan fetches and classifies every message in search order. Non-actionable
// mails are marked right away when auto-prune is on; actionable ones are
// kept for dispatch. Mails that could not be fully parsed are never marked.
func (s *Service) scan(
	ctx context.Context,
	logger *log.Logger,
	sec model.MailboxSection,
	sess transport.Session,
	policy DeletionPolicy,
	ids []model.MessageID,
	res *SectionResult,
) (*model.LinkSet, error) {
	links := model.NewLinkSet()

	for _, id := range ids {
		raw, err := sess.Fetch(ctx, id)
		if err != nil {
			return nil, &SectionError{Section: sec.Name, Stage: StageFetch, MessageID: id, Err: err}
		}

		msgLog := logger.With("uid", id)
		class, err := Classify(model.Message{ID: id, Raw: raw}, func(p extract.Part) {
			msgLog.Debug("inspecting part", "part", p.Index, "type", p.ContentType, "bytes", p.Size)
		})
		if class.Actionable {
			links.Add(id, class.URL)
			msgLog.Info("found paid link", "url", class.URL)
			continue
		}

		// A part that could not be read may hold the link, so the mail stays.
		if err != nil {
			msgLog.Warn("message could not be fully parsed, leaving it in place", "error", err)
			res.Unreadable++
			continue
		}

		if !sec.AutoPrune {
			continue
		}
		if err := policy.Mark(ctx, sess, id); err != nil {
			return nil, &SectionError{Section: sec.Name, Stage: StagePrune, MessageID: id, Err: err}
		}
		res.Marked++
		msgLog.Info("marked mail without link for deletion")
	}

	return links, nil
}

// dispatch opens every link in one browser session, marking each mail
// right after its tab was requested, then holds the browser open for the
// settle interval.
func (s *Service) dispatch(
	ctx context.Context,
	logger *log.Logger,
	sec model.MailboxSection,
	sess transport.Session,
	policy DeletionPolicy,
	links *model.LinkSet,
	res *SectionResult,
) error {
	browser, err := s.Launcher.Open(ctx, sec.Browser())
	if err != nil {
		return &SectionError{Section: sec.Name, Stage: StageLaunch, Err: err}
	}

	closed := false
	closeBrowser := func() {
		if closed {
			return
		}
		closed = true
		if err := browser.Close(); err != nil {
			logger.Warn("closing browser failed", "error", err)
		}
	}
	defer closeBrowser()

	if err := browser.Navigate(ctx, dispatch.LandingURL); err != nil {
		return &SectionError{Section: sec.Name, Stage: StageDispatch, Err: err}
	}

	for _, link := range links.Entries() {
		logger.Info("opening paid link", "uid", link.MessageID, "url", link.URL)
		if err := browser.OpenTab(ctx, link.URL); err != nil {
			return &SectionError{Section: sec.Name, Stage: StageDispatch, MessageID: link.MessageID, Err: err}
		}
		res.Links++

		if !sec.AutoPrune {
			continue
		}
		if err := policy.Mark(ctx, sess, link.MessageID); err != nil {
			return &SectionError{Section: sec.Name, Stage: StagePrune, MessageID: link.MessageID, Err: err}
		}
		res.Marked++
	}

	logger.Info("waiting before closing the browser so all pages finish loading", "wait", SettleInterval)
	s.sleep(SettleInterval)
	closeBrowser()

	return nil
}

// release ends the transport session. CLOSE expunges flagged messages on
// most servers, so it is only sent after a completed section; an aborted
// section only logs out and leaves its marks for a later run.
func (s *Service) release(
	ctx context.Context, logger *log.Logger, sess transport.Session, completed bool,
) {
	logger.Info("disconnecting from IMAP server")
	if completed {
		if err := sess.Close(ctx); err != nil {
			logger.Warn("closing mailbox failed", "error", err)
		}
	}
	if err := sess.Logout(ctx); err != nil {
		logger.Warn("logout failed", "error", err)
	}
}

func (s *Service) logger() *log.Logger {
	if s.Log == nil {
		return log.New(io.Discard)
	}
	return s.Log
}

func (s *Service) sleep(d time.Duration) {
	if s.Sleep == nil {
		time.Sleep(d)
		return
	}
	s.Sleep(d)
}
