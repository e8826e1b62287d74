package credential

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

const (
	// SealedPrefix marks a token file written by Sealer.Seal.
	SealedPrefix = "sealed:"

	KeySize    = 32
	sealedName = "kide_token"
)

// Sealer encrypts and authenticates a token at rest. HMAC and AES keys are
// derived from a single master key with HKDF-SHA256.
type Sealer struct {
	sc *securecookie.SecureCookie
}

func NewSealer(master []byte) (*Sealer, error) {
	if len(master) != KeySize {
		return nil, fmt.Errorf("token key must be %d bytes (got %d)", KeySize, len(master))
	}
	kdf := hkdf.New(sha256.New, master, nil, []byte("kiderace token v1"))
	hashKey := make([]byte, 64)
	blockKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, hashKey); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(kdf, blockKey); err != nil {
		return nil, err
	}
	sc := securecookie.New(hashKey, blockKey)
	// tokens are long-lived, expiry is the vendor's business
	sc.MaxAge(0)
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &Sealer{sc: sc}, nil
}

// Seal returns the file representation of token.
func (s *Sealer) Seal(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmpty
	}
	enc, err := s.sc.Encode(sealedName, token)
	if err != nil {
		return "", err
	}
	return SealedPrefix + enc, nil
}

func (s *Sealer) Unseal(sealed string) (string, error) {
	sealed = strings.TrimSpace(sealed)
	if !strings.HasPrefix(sealed, SealedPrefix) {
		return "", errors.New("credential: not a sealed token")
	}
	var token string
	if err := s.sc.Decode(sealedName, strings.TrimPrefix(sealed, SealedPrefix), &token); err != nil {
		return "", fmt.Errorf("credential: unseal: %w", err)
	}
	return token, nil
}
