// Package signature signs and verifies plan documents with ed25519.
//
// The signed payload is the YAML rendering of the plan with its Signature
// field cleared, so a signed document can carry its own signature.
package signature

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dukex/conduit/pkg/models"
)

var (
	ErrSignatureInvalid = errors.New("plan signature is invalid")
	ErrSignatureMissing = errors.New("plan is not signed")
	ErrInvalidKey       = errors.New("invalid signing key")
)

// KeyLocator resolves the keys used to sign and verify plans.
type KeyLocator interface {
	PrivateKey() (ed25519.PrivateKey, error)
	PublicKey() (ed25519.PublicKey, error)
}

// Payload returns the bytes covered by a plan signature.
func Payload(plan *models.Plan) ([]byte, error) {
	unsigned := plan.Clone()
	unsigned.Signature = nil

	return models.MarshalPlanYAML(unsigned)
}

// Sign sets plan.Signature using the locator's private key.
func Sign(plan *models.Plan, keys KeyLocator) error {
	key, err := keys.PrivateKey()
	if err != nil {
		return err
	}

	payload, err := Payload(plan)
	if err != nil {
		return err
	}

	plan.Signature = ed25519.Sign(key, payload)

	return nil
}

// Verify checks plan.Signature against the locator's public key.
func Verify(plan *models.Plan, keys KeyLocator) error {
	if len(plan.Signature) == 0 {
		return fmt.Errorf("plan %s: %w", plan.Name, ErrSignatureMissing)
	}

	key, err := keys.PublicKey()
	if err != nil {
		return err
	}

	payload, err := Payload(plan)
	if err != nil {
		return err
	}

	if !ed25519.Verify(key, payload, plan.Signature) {
		return fmt.Errorf("plan %s: %w", plan.Name, ErrSignatureInvalid)
	}

	return nil
}

// IsSignatureError reports whether err means the plan must be rejected as
// unsigned or tampered with.
func IsSignatureError(err error) bool {
	return errors.Is(err, ErrSignatureInvalid) || errors.Is(err, ErrSignatureMissing)
}

// FileKeyLocator reads base64-encoded keys from files. Either path may be
// empty when the process only signs or only verifies.
type FileKeyLocator struct {
	PrivateKeyPath string
	PublicKeyPath  string
}

func (l FileKeyLocator) PrivateKey() (ed25519.PrivateKey, error) {
	raw, err := readKey(l.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	default:
		return nil, fmt.Errorf("%s: private key has %d bytes: %w", l.PrivateKeyPath, len(raw), ErrInvalidKey)
	}
}

func (l FileKeyLocator) PublicKey() (ed25519.PublicKey, error) {
	raw, err := readKey(l.PublicKeyPath)
	if err != nil {
		return nil, err
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%s: public key has %d bytes: %w", l.PublicKeyPath, len(raw), ErrInvalidKey)
	}

	return ed25519.PublicKey(raw), nil
}

func readKey(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("no key file configured: %w", ErrInvalidKey)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrInvalidKey, err)
	}

	return raw, nil
}

// EncodeKey renders a key the way FileKeyLocator expects it on disk.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
