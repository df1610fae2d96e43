// Package credential stores mailbox passwords in the system keyring and
// resolves the keyring references used in the config file.
package credential

import (
	"fmt"
	"strings"

	"github.com/99designs/keyring"

	"github.com/nhle/redeemer/internal/model"
)

const serviceName = "redeemer"

// RefPrefix marks a pass_ref value that names a keyring entry.
const RefPrefix = "keyring:"

// Store reads and writes secrets in a keyring.
type Store struct {
	ring keyring.Keyring
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Open returns a Store backed by the system keyring.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/redeemer/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("redeemer-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewStore(ring), nil
}

// Get retrieves a secret by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a secret by key.
func (s *Store) Set(key string, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "redeemer " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a secret by key.
func (s *Store) Delete(key string) error {
	if err := s.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// KeyFor is the keyring key a section's password is stored under.
func KeyFor(section string) string {
	return serviceName + "-" + section
}

// RefFor returns the pass_ref value pointing at key.
func RefFor(key string) string {
	return RefPrefix + key
}

// Resolve looks up the secret a reference of the form keyring:<key> points
// at.
func (s *Store) Resolve(ref string) (string, error) {
	key, ok := strings.CutPrefix(ref, RefPrefix)
	if !ok || key == "" {
		return "", fmt.Errorf("unsupported credential reference %q", ref)
	}
	return s.Get(key)
}

// ResolveSections fills Pass from PassRef for every section that has no
// inline password. A failed lookup is reported as a missing setting.
func (s *Store) ResolveSections(sections []model.MailboxSection) error {
	for i := range sections {
		sec := &sections[i]
		if sec.Pass != "" || sec.PassRef == "" {
			continue
		}
		pass, err := s.Resolve(sec.PassRef)
		if err != nil {
			return &model.MissingSettingError{
				Section: sec.Name,
				Key:     "pass",
				Reason:  err.Error(),
			}
		}
		sec.Pass = pass
	}
	return nil
}

// NeedsKeyring reports whether any section takes its password from the
// keyring.
func NeedsKeyring(sections []model.MailboxSection) bool {
	for _, sec := range sections {
		if sec.Pass == "" && sec.PassRef != "" {
			return true
		}
	}
	return false
}
