package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ErrConfigNotFound is returned by LoadConfig when the config file does
// not exist. It terminates the run before any section is processed.
var ErrConfigNotFound = errors.New("config file not found")

// MissingSettingError reports a required setting that is absent from a
// section. Like ErrConfigNotFound it aborts the whole run.
type MissingSettingError struct {
	Section string
	Key     string
	Reason  string
}

func (e *MissingSettingError) Error() string {
	msg := fmt.Sprintf("section %q: missing setting %q", e.Section, e.Key)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// IsMissingSetting reports whether err (or any error in its chain) is a
// MissingSettingError.
func IsMissingSetting(err error) bool {
	var missing *MissingSettingError
	return errors.As(err, &missing)
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is one of text, json, logfmt.
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Log      LogConfig        `mapstructure:"log" yaml:"log"`
	Sections []MailboxSection `mapstructure:"sections" yaml:"sections"`
}

// DefaultConfigPath is used when no --config-file flag is given.
const DefaultConfigPath = "config.yaml"

func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Sections: []MailboxSection{},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper
// and applies per-section defaults. It returns ErrConfigNotFound when the
// file does not exist. The result is not validated; call Validate.
func LoadConfig(path string) (*AppConfig, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("checking config %s: %w", path, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range cfg.Sections {
		applySectionDefaults(&cfg.Sections[i])
	}

	return cfg, nil
}

func applySectionDefaults(s *MailboxSection) {
	s.Name = strings.TrimSpace(s.Name)
	s.Host = strings.TrimSpace(s.Host)
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if strings.TrimSpace(s.Mailbox) == "" {
		s.Mailbox = DefaultMailbox
	}
}

// Validate checks every section for required settings. The first problem
// found is returned as a *MissingSettingError.
func (c *AppConfig) Validate() error {
	if len(c.Sections) == 0 {
		return &MissingSettingError{Key: "sections", Reason: "no sections configured"}
	}

	seen := make(map[string]bool, len(c.Sections))
	for i, s := range c.Sections {
		name := s.Name
		if name == "" {
			return &MissingSettingError{
				Section: fmt.Sprintf("#%d", i+1),
				Key:     "name",
			}
		}
		if seen[name] {
			return &MissingSettingError{
				Section: name,
				Key:     "name",
				Reason:  "duplicate section name",
			}
		}
		seen[name] = true

		if s.Host == "" {
			return &MissingSettingError{Section: name, Key: "host"}
		}
		if s.Port < 1 || s.Port > 65535 {
			return &MissingSettingError{
				Section: name,
				Key:     "port",
				Reason:  fmt.Sprintf("invalid port %d", s.Port),
			}
		}
		if strings.TrimSpace(s.User) == "" {
			return &MissingSettingError{Section: name, Key: "user"}
		}
		if s.Pass == "" && s.PassRef == "" {
			return &MissingSettingError{
				Section: name,
				Key:     "pass",
				Reason:  "set pass or pass_ref",
			}
		}
		if s.AutoPrune && s.Provider() == ProviderGmail &&
			strings.TrimSpace(s.TrashMailbox) == "" {
			return &MissingSettingError{
				Section: name,
				Key:     "trash_mailbox",
				Reason:  "required for auto_prune on Gmail",
			}
		}
	}

	return nil
}

// Select returns the sections whose names are listed, in config order.
// An empty list selects every section.
func (c *AppConfig) Select(names []string) ([]MailboxSection, error) {
	if len(names) == 0 {
		return c.Sections, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.TrimSpace(n)] = true
	}

	var out []MailboxSection
	for _, s := range c.Sections {
		if wanted[s.Name] {
			out = append(out, s)
			delete(wanted, s.Name)
		}
	}
	for n := range wanted {
		return nil, fmt.Errorf("unknown section %q", n)
	}

	return out, nil
}

// Section returns the section with the given name.
func (c *AppConfig) Section(name string) (*MailboxSection, bool) {
	for i := range c.Sections {
		if c.Sections[i].Name == name {
			return &c.Sections[i], true
		}
	}
	return nil, false
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("log", cfg.Log)
	v.Set("sections", cfg.Sections)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// LoadOrEmpty loads path, returning a default configuration when the file
// does not exist yet. The setup wizard uses it to append sections.
func LoadOrEmpty(path string) (*AppConfig, error) {
	cfg, err := LoadConfig(path)
	if errors.Is(err, ErrConfigNotFound) {
		return defaultAppConfig(), nil
	}
	return cfg, err
}
