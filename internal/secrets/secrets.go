package secrets

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

const service = "showcased"

// KeyBotToken is the secret name under which the bot token is stored.
const KeyBotToken = "discordBotToken"

// Store keeps credentials in the operating system keychain. Secrets never
// touch the database or the config files.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// Get returns the named secret. ok is false when the secret was never set.
func (s *Store) Get(name string) (value string, ok bool, err error) {
	value, err = keyring.Get(service, name)
	if err == keyring.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read secret %s: %w", name, err)
	}
	return value, true, nil
}

func (s *Store) Set(name, value string) error {
	if err := keyring.Set(service, name, value); err != nil {
		return fmt.Errorf("store secret %s: %w", name, err)
	}
	return nil
}

// Delete removes the named secret. Deleting a missing secret is a no-op.
func (s *Store) Delete(name string) error {
	err := keyring.Delete(service, name)
	if err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("delete secret %s: %w", name, err)
	}
	return nil
}

// DeleteAll removes every secret this application owns. Used by the full
// reset path.
func (s *Store) DeleteAll() error {
	return s.Delete(KeyBotToken)
}
