package redeem

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/redeemer/internal/dispatch"
	"github.com/nhle/redeemer/internal/model"
	"github.com/nhle/redeemer/internal/transport"
)

const (
	stdHost    = "imap.example.com"
	gmailHost  = "imap.gmail.com"
	gmailTrash = "[Gmail]/Trash"
)

func TestProcessSectionScenarioA(t *testing.T) {
	h := newHarness()
	h.mailbox(stdHost, htmlMail(linkA), plainMail("Nur Info, kein Link."))

	res, err := h.svc.ProcessSection(context.Background(), section("home", stdHost, false))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"connect imap.example.com:993",
		"login me",
		"select INBOX",
		"search info@dondino.de",
		"fetch 1",
		"fetch 2",
		"launch headless=false",
		"navigate https://dondino.de",
		"tab " + linkA,
		"sleep 2m0s",
		"browser-close",
		"close",
		"logout",
	}, h.rec.events)

	assert.Equal(t, SectionResult{
		Section:  "home",
		Provider: model.ProviderStandard,
		Found:    2,
		Links:    1,
	}, res)
}

func TestProcessSectionScenarioBStandardPrune(t *testing.T) {
	h := newHarness()
	h.mailbox(stdHost, htmlMail(linkA), plainMail("Nur Info, kein Link."))

	res, err := h.svc.ProcessSection(context.Background(), section("home", stdHost, true))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"connect imap.example.com:993",
		"login me",
		"select INBOX",
		"search info@dondino.de",
		"fetch 1",
		"fetch 2",
		`flag 2 \Deleted`,
		"launch headless=false",
		"navigate https://dondino.de",
		"tab " + linkA,
		`flag 1 \Deleted`,
		"sleep 2m0s",
		"browser-close",
		"expunge",
		"close",
		"logout",
	}, h.rec.events)

	assert.Equal(t, 1, res.Links)
	assert.Equal(t, 2, res.Marked)
	assert.True(t, res.Finalized)
}

func TestProcessSectionScenarioCGmailPrune(t *testing.T) {
	h := newHarness()
	sess := h.mailbox(gmailHost, htmlMail(linkA), plainMail("Nur Info, kein Link."))
	sess.counts[gmailTrash] = 2

	sec := section("gmail", gmailHost, true)
	sec.TrashMailbox = gmailTrash
	sec.Headless = true

	res, err := h.svc.ProcessSection(context.Background(), sec)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"connect imap.gmail.com:993",
		"login me",
		"select INBOX",
		"search info@dondino.de",
		"fetch 1",
		"fetch 2",
		`label 2 \Trash`,
		"launch headless=true",
		"navigate https://dondino.de",
		"tab " + linkA,
		`label 1 \Trash`,
		"sleep 2m0s",
		"browser-close",
		"select [Gmail]/Trash",
		`bulk 1:* \Deleted`,
		"expunge",
		"close",
		"logout",
	}, h.rec.events)

	assert.Equal(t, model.ProviderGmail, res.Provider)
	assert.Equal(t, 2, res.Marked)
	assert.True(t, res.Finalized)
}

func TestProcessSectionScenarioDNoMails(t *testing.T) {
	h := newHarness()
	h.mailbox(stdHost)

	res, err := h.svc.ProcessSection(context.Background(), section("home", stdHost, true))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"connect imap.example.com:993",
		"login me",
		"select INBOX",
		"search info@dondino.de",
		"close",
		"logout",
	}, h.rec.events)
	assert.Zero(t, res.Found)
	assert.Zero(t, res.Links)
	assert.False(t, res.Finalized)
}

func TestProcessSectionScenarioEMalformedToken(t *testing.T) {
	h := newHarness()
	h.mailbox(stdHost, plainMail("Siehe https://dondino.de/link/ und https://dondino.de/link/?"))

	res, err := h.svc.ProcessSection(context.Background(), section("home", stdHost, false))
	require.NoError(t, err)

	assert.NotContains(t, h.rec.events, "launch headless=false")
	assert.Equal(t, 1, res.Found)
	assert.Zero(t, res.Links)
}

func TestProcessSectionNoLinksStillFinalizes(t *testing.T) {
	h := newHarness()
	h.mailbox(stdHost, plainMail("Bonus"), plainMail("Info"))

	res, err := h.svc.ProcessSection(context.Background(), section("home", stdHost, true))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"connect imap.example.com:993",
		"login me",
		"select INBOX",
		"search info@dondino.de",
		"fetch 1",
		`flag 1 \Deleted`,
		"fetch 2",
		`flag 2 \Deleted`,
		"expunge",
		"close",
		"logout",
	}, h.rec.events)
	assert.Equal(t, 2, res.Marked)
	assert.True(t, res.Finalized)
}

func TestProcessSectionDuplicateURLsOpenedPerMessage(t *testing.T) {
	h := newHarness()
	h.mailbox(stdHost, htmlMail(linkA), htmlMail(linkA), htmlMail(linkB))

	res, err := h.svc.ProcessSection(context.Background(), section("home", stdHost, false))
	require.NoError(t, err)

	var tabs []string
	for _, e := range h.rec.events {
		if len(e) > 4 && e[:4] == "tab " {
			tabs = append(tabs, e[4:])
		}
	}
	assert.Equal(t, []string{linkA, linkA, linkB}, tabs)
	assert.Equal(t, 3, res.Links)
}

func TestProcessSectionUndecodablePartKeepsMail(t *testing.T) {
	h := newHarness()
	h.mailbox(stdHost,
		brokenPartMail(`<a href="`+linkA+`">Hier klicken</a>`),
		brokenPartMail("<p>Bonus</p>"),
	)

	res, err := h.svc.ProcessSection(context.Background(), section("home", stdHost, true))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"connect imap.example.com:993",
		"login me",
		"select INBOX",
		"search info@dondino.de",
		"fetch 1",
		"fetch 2",
		"launch headless=false",
		"navigate https://dondino.de",
		"tab " + linkA,
		`flag 1 \Deleted`,
		"sleep 2m0s",
		"browser-close",
		"expunge",
		"close",
		"logout",
	}, h.rec.events)

	assert.Equal(t, 1, res.Links)
	assert.Equal(t, 1, res.Marked)
	assert.Equal(t, 1, res.Unreadable)
	assert.NotContains(t, h.rec.events, `flag 2 \Deleted`)
}

func TestProcessSectionGmailEmptyTrashSkipsBulkMark(t *testing.T) {
	h := newHarness()
	sess := h.mailbox(gmailHost, plainMail("Bonus"))
	sess.counts[gmailTrash] = 0

	sec := section("gmail", gmailHost, true)
	sec.TrashMailbox = gmailTrash

	_, err := h.svc.ProcessSection(context.Background(), sec)
	require.NoError(t, err)

	assert.Contains(t, h.rec.events, "select [Gmail]/Trash")
	assert.NotContains(t, h.rec.events, `bulk 1:* \Deleted`)
	assert.Contains(t, h.rec.events, "expunge")
}

func TestProcessSectionIsIdempotentWithoutPrune(t *testing.T) {
	h := newHarness()
	h.mailbox(stdHost, htmlMail(linkA), plainMail("Bonus"), htmlMail(linkB))
	sec := section("home", stdHost, false)

	first, err := h.svc.ProcessSection(context.Background(), sec)
	require.NoError(t, err)
	firstEvents := append([]string(nil), h.rec.events...)

	h.rec.events = nil
	second, err := h.svc.ProcessSection(context.Background(), sec)
	require.NoError(t, err)

	assert.Equal(t, firstEvents, h.rec.events)
	assert.Equal(t, first, second)
	for _, e := range h.rec.events {
		assert.NotContains(t, e, "flag")
		assert.NotContains(t, e, "label")
		assert.NotEqual(t, "expunge", e)
	}
}

func TestProcessSectionFailures(t *testing.T) {
	cases := []struct {
		name       string
		autoPrune  bool
		setup      func(h *harness, sess *fakeSession)
		wantStage  Stage
		wantEvents []string
		check      func(t *testing.T, err error)
	}{
		{
			name: "connect",
			setup: func(h *harness, _ *fakeSession) {
				h.dialer.errs[stdHost] = errBoom
			},
			wantStage:  StageConnect,
			wantEvents: []string{"connect imap.example.com:993"},
			check: func(t *testing.T, err error) {
				assert.True(t, transport.IsConnectError(err))
			},
		},
		{
			name: "login",
			setup: func(_ *harness, sess *fakeSession) {
				sess.fail["login me"] = errBoom
			},
			wantStage: StageLogin,
			wantEvents: []string{
				"connect imap.example.com:993",
				"login me",
				"logout",
			},
			check: func(t *testing.T, err error) {
				assert.True(t, transport.IsAuthError(err))
			},
		},
		{
			name: "select",
			setup: func(_ *harness, sess *fakeSession) {
				sess.fail["select INBOX"] = errBoom
			},
			wantStage: StageSelect,
			wantEvents: []string{
				"connect imap.example.com:993",
				"login me",
				"select INBOX",
				"logout",
			},
		},
		{
			name:      "fetch keeps earlier marks without expunge",
			autoPrune: true,
			setup: func(_ *harness, sess *fakeSession) {
				sess.fail["fetch 2"] = errBoom
			},
			wantStage: StageFetch,
			wantEvents: []string{
				"connect imap.example.com:993",
				"login me",
				"select INBOX",
				"search info@dondino.de",
				"fetch 1",
				`flag 1 \Deleted`,
				"fetch 2",
				"logout",
			},
			check: func(t *testing.T, err error) {
				assert.True(t, transport.IsOperationError(err, transport.OpFetch))
			},
		},
		{
			name:      "launch",
			autoPrune: true,
			setup: func(h *harness, _ *fakeSession) {
				h.launcher.err = errBoom
			},
			wantStage: StageLaunch,
			wantEvents: []string{
				"connect imap.example.com:993",
				"login me",
				"select INBOX",
				"search info@dondino.de",
				"fetch 1",
				`flag 1 \Deleted`,
				"fetch 2",
				"fetch 3",
				"launch headless=false",
				"logout",
			},
			check: func(t *testing.T, err error) {
				assert.True(t, dispatch.IsLaunchError(err))
			},
		},
		{
			name:      "tab closes browser and leaves message unmarked",
			autoPrune: true,
			setup: func(h *harness, _ *fakeSession) {
				h.launcher.fail["tab "+linkB] = errBoom
			},
			wantStage: StageDispatch,
			wantEvents: []string{
				"connect imap.example.com:993",
				"login me",
				"select INBOX",
				"search info@dondino.de",
				"fetch 1",
				`flag 1 \Deleted`,
				"fetch 2",
				"fetch 3",
				"launch headless=false",
				"navigate https://dondino.de",
				"tab " + linkA,
				`flag 2 \Deleted`,
				"tab " + linkB,
				"browser-close",
				"logout",
			},
		},
		{
			name:      "finalize",
			autoPrune: true,
			setup: func(_ *harness, sess *fakeSession) {
				sess.fail["expunge"] = errBoom
			},
			wantStage: StageFinalize,
			wantEvents: []string{
				"connect imap.example.com:993",
				"login me",
				"select INBOX",
				"search info@dondino.de",
				"fetch 1",
				`flag 1 \Deleted`,
				"fetch 2",
				"fetch 3",
				"launch headless=false",
				"navigate https://dondino.de",
				"tab " + linkA,
				`flag 2 \Deleted`,
				"tab " + linkB,
				`flag 3 \Deleted`,
				"sleep 2m0s",
				"browser-close",
				"expunge",
				"logout",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			sess := h.mailbox(stdHost, plainMail("Bonus"), htmlMail(linkA), htmlMail(linkB))
			tc.setup(h, sess)

			res, err := h.svc.ProcessSection(context.Background(), section("home", stdHost, tc.autoPrune))
			require.Error(t, err)

			stage, ok := StageOf(err)
			require.True(t, ok)
			assert.Equal(t, tc.wantStage, stage)
			assert.Equal(t, err, res.Err)
			assert.Equal(t, tc.wantEvents, h.rec.events)
			assert.Contains(t, err.Error(), `section "home"`)
			if tc.check != nil {
				tc.check(t, err)
			}
		})
	}
}

func TestRunnerContinuesAfterFailedSection(t *testing.T) {
	h := newHarness()
	broken := h.mailbox("imap.broken.example", htmlMail(linkA))
	broken.fail["login me"] = errBoom
	h.mailbox(stdHost, htmlMail(linkB))

	runner := &Runner{Processor: h.svc, Log: log.New(io.Discard)}
	results := runner.Run(context.Background(), []model.MailboxSection{
		section("broken", "imap.broken.example", false),
		section("home", stdHost, false),
	})

	require.Len(t, results, 2)
	assert.Equal(t, "broken", results[0].Section)
	require.Error(t, results[0].Err)
	assert.True(t, transport.IsAuthError(results[0].Err))

	assert.Equal(t, "home", results[1].Section)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, results[1].Links)
	assert.Equal(t, 1, Failed(results))

	assert.Contains(t, h.rec.events, "tab "+linkB)
	assert.NotContains(t, h.rec.events, "tab "+linkA)
}

type stubProcessor struct {
	fail map[string]error
	seen []string
}

func (p *stubProcessor) ProcessSection(
	_ context.Context, sec model.MailboxSection,
) (SectionResult, error) {
	p.seen = append(p.seen, sec.Name)
	return SectionResult{Section: sec.Name}, p.fail[sec.Name]
}

func TestRunnerWithoutLogger(t *testing.T) {
	proc := &stubProcessor{fail: map[string]error{"a": errBoom}}
	runner := &Runner{Processor: proc}

	var results []SectionResult
	require.NotPanics(t, func() {
		results = runner.Run(context.Background(), []model.MailboxSection{
			{Name: "a"},
			{Name: "b"},
		})
	})

	assert.Equal(t, []string{"a", "b"}, proc.seen)
	require.Len(t, results, 2)
	assert.ErrorIs(t, results[0].Err, errBoom)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, Failed(results))
}

func TestRunnerLogsAbortAsWarning(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.WarnLevel})

	runner := &Runner{
		Processor: &stubProcessor{fail: map[string]error{"a": &SectionError{Section: "a", Stage: StageLogin, Err: errBoom}}},
		Log:       logger,
	}
	runner.Run(context.Background(), []model.MailboxSection{{Name: "a"}})

	out := buf.String()
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "section aborted")
	assert.Contains(t, out, "stage=login")
	assert.NotContains(t, out, "ERRO")
}
