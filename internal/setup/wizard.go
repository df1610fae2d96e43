// Package setup holds the interactive forms that add mailbox sections to
// the config file and store their passwords in the keyring.
package setup

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/redeemer/internal/credential"
	"github.com/nhle/redeemer/internal/model"
)

// SecretStore is the part of the keyring the forms write to.
type SecretStore interface {
	Set(key string, value string) error
	Delete(key string) error
}

// SectionForm holds the values bound to the wizard fields.
type SectionForm struct {
	Name         string
	Host         string
	Port         string
	User         string
	Password     string
	Mailbox      string
	TrashMailbox string
	AutoPrune    bool
	Headless     bool
	BrowserPath  string
}

// NewSectionForm returns form values with the usual defaults filled in.
func NewSectionForm() *SectionForm {
	return &SectionForm{
		Port:    strconv.Itoa(model.DefaultPort),
		Mailbox: model.DefaultMailbox,
	}
}

func (f *SectionForm) build() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Description("A label for this mailbox").
				Placeholder("gmail").
				Value(&f.Name).
				Validate(validateRequired("Name")),
			huh.NewInput().
				Title("IMAP Host").
				Description("IMAP server hostname").
				Placeholder("imap.example.com").
				Value(&f.Host).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Description("IMAPS port (e.g., 993)").
				Placeholder("993").
				Value(&f.Port).
				Validate(validatePort),
			huh.NewInput().
				Title("Username").
				Description("Mail account username").
				Placeholder("user@example.com").
				Value(&f.User).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Account or app password, stored in the system keyring").
				EchoMode(huh.EchoModePassword).
				Value(&f.Password).
				Validate(validateRequired("Password")),
			huh.NewInput().
				Title("Mailbox").
				Description("Mailbox to scan").
				Placeholder(model.DefaultMailbox).
				Value(&f.Mailbox),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Delete processed mails").
				Affirmative("Yes").
				Negative("No").
				Value(&f.AutoPrune),
			huh.NewInput().
				Title("Trash Mailbox").
				Description("Gmail only, e.g. [Gmail]/Trash or [Gmail]/Papierkorb").
				Value(&f.TrashMailbox).
				Validate(f.validateTrash),
			huh.NewConfirm().
				Title("Run browser headless").
				Affirmative("Yes").
				Negative("No").
				Value(&f.Headless),
			huh.NewInput().
				Title("Browser Path").
				Description("Optional Chrome/Chromium executable").
				Value(&f.BrowserPath),
		),
	)
}

// Section converts the form values into a config section. The password is
// not copied; Apply stores it in the keyring.
func (f *SectionForm) Section() (model.MailboxSection, error) {
	port, err := strconv.Atoi(strings.TrimSpace(f.Port))
	if err != nil {
		return model.MailboxSection{}, fmt.Errorf("parsing port: %w", err)
	}
	mailbox := strings.TrimSpace(f.Mailbox)
	if mailbox == "" {
		mailbox = model.DefaultMailbox
	}
	return model.MailboxSection{
		Name:         strings.TrimSpace(f.Name),
		Host:         strings.TrimSpace(f.Host),
		Port:         port,
		User:         strings.TrimSpace(f.User),
		Mailbox:      mailbox,
		TrashMailbox: strings.TrimSpace(f.TrashMailbox),
		AutoPrune:    f.AutoPrune,
		Headless:     f.Headless,
		BrowserPath:  strings.TrimSpace(f.BrowserPath),
	}, nil
}

// Apply appends the form's section to cfg and stores its password. The
// config is validated before anything is written to the keyring.
func Apply(cfg *model.AppConfig, f *SectionForm, secrets SecretStore) (model.MailboxSection, error) {
	sec, err := f.Section()
	if err != nil {
		return model.MailboxSection{}, err
	}
	if _, exists := cfg.Section(sec.Name); exists {
		return model.MailboxSection{}, fmt.Errorf("section %q already exists", sec.Name)
	}

	key := credential.KeyFor(sec.Name)
	sec.PassRef = credential.RefFor(key)

	next := *cfg
	next.Sections = append(append([]model.MailboxSection(nil), cfg.Sections...), sec)
	if err := next.Validate(); err != nil {
		return model.MailboxSection{}, err
	}

	if err := secrets.Set(key, f.Password); err != nil {
		return model.MailboxSection{}, err
	}
	cfg.Sections = next.Sections
	return sec, nil
}

// RunWizard asks for a new section and appends it to the config at path,
// creating the file when needed.
func RunWizard(path string, secrets SecretStore) (model.MailboxSection, error) {
	cfg, err := model.LoadOrEmpty(path)
	if err != nil {
		return model.MailboxSection{}, err
	}

	f := NewSectionForm()
	if err := f.build().Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return model.MailboxSection{}, ErrAborted
		}
		return model.MailboxSection{}, fmt.Errorf("running setup form: %w", err)
	}

	sec, err := Apply(cfg, f, secrets)
	if err != nil {
		return model.MailboxSection{}, err
	}
	if err := model.SaveConfig(path, cfg); err != nil {
		return model.MailboxSection{}, err
	}
	return sec, nil
}

// ErrAborted is returned when the user cancels a form.
var ErrAborted = errors.New("setup aborted")

func (f *SectionForm) validateTrash(s string) error {
	if !f.AutoPrune || model.ProviderFor(f.Host) != model.ProviderGmail {
		return nil
	}
	return validateRequired("Trash Mailbox")(s)
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validatePort(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("port is required")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return fmt.Errorf("port must be a number")
		}
	}
	if n, err := strconv.Atoi(s); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
