package crypto

import (
	"encoding/base64"
	"errors"

	"github.com/zalando/go-keyring"
)

// Fixed service/account names for the master key in the OS credential store.
const (
	KeyringService = "recall"
	KeyringAccount = "master-key"
)

// KeySource describes how the master key was obtained.
type KeySource string

const (
	KeySourceKeyring    KeySource = "keyring"
	KeySourcePassphrase KeySource = "passphrase"
	KeySourceGenerated  KeySource = "generated"
)

// LoadOrCreateKey acquires the master key. Order: (1) load from the OS
// credential store; (2) if absent, derive from the passphrase when one is
// given, otherwise generate random bytes; the new key is persisted to the
// credential store. The salt used for derivation must be stable across runs
// and is supplied by the caller (the store keeps it alongside the data).
func LoadOrCreateKey(passphrase string, salt []byte) ([]byte, KeySource, error) {
	encoded, err := keyring.Get(KeyringService, KeyringAccount)
	if err == nil {
		key, decErr := base64.StdEncoding.DecodeString(encoded)
		if decErr != nil {
			return nil, "", &Error{Op: "decode keyring entry", Cause: decErr}
		}
		if len(key) != KeySize {
			return nil, "", &Error{Op: "keyring entry has wrong key size"}
		}
		return key, KeySourceKeyring, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, "", &Error{Op: "read keyring", Cause: err}
	}

	var key []byte
	source := KeySourceGenerated
	if passphrase != "" {
		key = DeriveKey(passphrase, salt)
		source = KeySourcePassphrase
	} else {
		key, err = NewKey()
		if err != nil {
			return nil, "", err
		}
	}

	if err := keyring.Set(KeyringService, KeyringAccount, base64.StdEncoding.EncodeToString(key)); err != nil {
		return nil, "", &Error{Op: "persist key to keyring", Cause: err}
	}
	return key, source, nil
}

// DeleteKey removes the master key from the credential store. Used by tests
// and by explicit key rotation.
func DeleteKey() error {
	if err := keyring.Delete(KeyringService, KeyringAccount); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return &Error{Op: "delete keyring entry", Cause: err}
	}
	return nil
}
