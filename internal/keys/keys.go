// Package keys manages the symmetric entry key in the platform credential
// vault. The key is generated once and never leaves the vault in any
// serialized diagnostic output.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/nreeve/murmur/internal/errors"
)

const (
	// Service is the fixed credential-vault service identifier.
	Service = "murmur"
	// Account is the fixed credential-vault account under Service.
	Account = "journal-entry-key"
	// KeySize is the entry key length in bytes (256 bits).
	KeySize = 32
)

// Manager provides the entry encryption key.
type Manager struct {
	service string
	account string
}

// NewManager returns a Manager bound to the fixed vault identifiers.
func NewManager() *Manager {
	return &Manager{service: Service, account: Account}
}

// GetOrCreateKey retrieves the entry key from the credential vault, creating
// it on first use. Vault failures surface as ENCRYPTION_KEY_UNAVAILABLE,
// distinct from ordinary storage errors.
func (m *Manager) GetOrCreateKey() ([]byte, error) {
	encoded, err := keyring.Get(m.service, m.account)
	if err == nil {
		key, decErr := hex.DecodeString(encoded)
		if decErr != nil || len(key) != KeySize {
			return nil, errors.NewEncryptionKeyUnavailable(fmt.Errorf("stored key is malformed"))
		}
		return key, nil
	}
	if err != keyring.ErrNotFound {
		return nil, errors.NewEncryptionKeyUnavailable(err)
	}

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.NewEncryptionKeyUnavailable(err)
	}
	if err := keyring.Set(m.service, m.account, hex.EncodeToString(key)); err != nil {
		return nil, errors.NewEncryptionKeyUnavailable(err)
	}
	return key, nil
}
