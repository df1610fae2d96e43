package model

import "strings"

// DefaultPort is the IMAPS port used when a section does not set one.
const DefaultPort = 993

// DefaultMailbox is the mailbox scanned when a section does not set one.
const DefaultMailbox = "INBOX"

// ProviderKind selects which deletion mechanism a mail server honours.
type ProviderKind int

const (
	// ProviderStandard servers remove messages flagged \Deleted on expunge.
	ProviderStandard ProviderKind = iota

	// ProviderGmail servers only remove messages that carry the \Trash
	// label and are flagged \Deleted inside the trash mailbox.
	ProviderGmail
)

func (k ProviderKind) String() string {
	switch k {
	case ProviderGmail:
		return "gmail"
	default:
		return "standard"
	}
}

// ProviderFor derives the provider kind from a transport host name.
// Any host ending in "gmail.com" is Gmail; everything else is standard IMAP.
func ProviderFor(host string) ProviderKind {
	if strings.HasSuffix(strings.ToLower(strings.TrimSpace(host)), "gmail.com") {
		return ProviderGmail
	}
	return ProviderStandard
}

// BrowserOptions controls how the link dispatcher launches its browser.
type BrowserOptions struct {
	// Headless runs the browser without a visible window.
	Headless bool

	// ExecPath optionally points at the browser executable.
	ExecPath string
}

// MailboxSection is one configured mailbox. It is immutable for the
// duration of a run and drives exactly one transport session.
type MailboxSection struct {
	// Name is the unique, user-defined label for this section.
	Name string `mapstructure:"name" yaml:"name"`

	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	User string `mapstructure:"user" yaml:"user"`

	// Pass holds the password in clear text. Prefer PassRef.
	Pass string `mapstructure:"pass" yaml:"pass,omitempty"`

	// PassRef points at a stored secret, e.g. "keyring:redeemer-gmail".
	PassRef string `mapstructure:"pass_ref" yaml:"pass_ref,omitempty"`

	Mailbox      string `mapstructure:"mailbox" yaml:"mailbox"`
	TrashMailbox string `mapstructure:"trash_mailbox" yaml:"trash_mailbox,omitempty"`

	// AutoPrune deletes processed mails from the mailbox.
	AutoPrune bool `mapstructure:"auto_prune" yaml:"auto_prune"`

	BrowserPath string `mapstructure:"browser_path" yaml:"browser_path,omitempty"`
	Headless    bool   `mapstructure:"headless" yaml:"headless"`
}

// Browser returns the dispatcher launch options of the section.
func (s MailboxSection) Browser() BrowserOptions {
	return BrowserOptions{Headless: s.Headless, ExecPath: s.BrowserPath}
}

// Provider returns the provider kind of the section's host.
func (s MailboxSection) Provider() ProviderKind {
	return ProviderFor(s.Host)
}
