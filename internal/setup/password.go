package setup

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/redeemer/internal/credential"
	"github.com/nhle/redeemer/internal/model"
)

// StorePassword saves password for the named section and points its
// pass_ref at the keyring entry. An inline pass is removed from cfg.
func StorePassword(cfg *model.AppConfig, name, password string, secrets SecretStore) error {
	sec, ok := cfg.Section(name)
	if !ok {
		return fmt.Errorf("unknown section %q", name)
	}
	if err := validateRequired("Password")(password); err != nil {
		return err
	}

	key := credential.KeyFor(sec.Name)
	if err := secrets.Set(key, password); err != nil {
		return err
	}
	sec.Pass = ""
	sec.PassRef = credential.RefFor(key)
	return nil
}

// RunPasswordPrompt asks for the password of the named section, stores it
// in the keyring and rewrites the config at path.
func RunPasswordPrompt(path, name string, secrets SecretStore) error {
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return err
	}
	if _, ok := cfg.Section(name); !ok {
		return fmt.Errorf("unknown section %q", name)
	}

	var password string
	err = huh.NewInput().
		Title(fmt.Sprintf("Password for %q", name)).
		EchoMode(huh.EchoModePassword).
		Value(&password).
		Validate(validateRequired("Password")).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrAborted
		}
		return fmt.Errorf("reading password: %w", err)
	}

	if err := StorePassword(cfg, name, password, secrets); err != nil {
		return err
	}
	return model.SaveConfig(path, cfg)
}

// RemovePassword deletes the keyring entry the named section points at and
// clears its pass_ref. The section needs a new password before the next run.
func RemovePassword(cfg *model.AppConfig, name string, secrets SecretStore) error {
	sec, ok := cfg.Section(name)
	if !ok {
		return fmt.Errorf("unknown section %q", name)
	}
	key, ok := strings.CutPrefix(sec.PassRef, credential.RefPrefix)
	if !ok || key == "" {
		return fmt.Errorf("section %q has no keyring password", name)
	}

	if err := secrets.Delete(key); err != nil {
		return err
	}
	sec.PassRef = ""
	return nil
}

// RunPasswordDelete removes the keyring password of the named section and
// rewrites the config at path.
func RunPasswordDelete(path, name string, secrets SecretStore) error {
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return err
	}
	if err := RemovePassword(cfg, name, secrets); err != nil {
		return err
	}
	return model.SaveConfig(path, cfg)
}
