// Package token mints and verifies the opaque strings carried by credentials.
// A token is an HMAC-signed envelope around the reservation id and a random
// nonce, so the scan path can reject forged input before touching storage.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
)

const name = "credential"

var ErrInvalid = errors.New("invalid credential token")

type payload struct {
	Reservation string `json:"r"`
	Nonce       string `json:"n"`
}

type Signer struct {
	sc *securecookie.SecureCookie
}

// NewSigner returns a Signer using hashKey for HMAC-SHA256. Tokens carry no
// expiry of their own: the credential's validity window lives in storage.
func NewSigner(hashKey []byte) (*Signer, error) {
	if len(hashKey) < 32 {
		return nil, fmt.Errorf("token hash key must be at least 32 bytes, got %d", len(hashKey))
	}
	sc := securecookie.New(hashKey, nil)
	sc.MaxAge(0)
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &Signer{sc: sc}, nil
}

// Mint returns a fresh token bound to reservationID. Two calls never return
// the same string.
func (s *Signer) Mint(reservationID uuid.UUID) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	tok, err := s.sc.Encode(name, payload{
		Reservation: reservationID.String(),
		Nonce:       base64.RawURLEncoding.EncodeToString(nonce),
	})
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	return tok, nil
}

// Verify checks the signature and returns the reservation id the token was
// minted for.
func (s *Signer) Verify(tok string) (uuid.UUID, error) {
	if tok == "" {
		return uuid.Nil, ErrInvalid
	}
	var p payload
	if err := s.sc.Decode(name, tok, &p); err != nil {
		return uuid.Nil, ErrInvalid
	}
	id, err := uuid.Parse(p.Reservation)
	if err != nil || p.Nonce == "" {
		return uuid.Nil, ErrInvalid
	}
	return id, nil
}
