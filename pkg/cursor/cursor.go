// Package cursor produces opaque pagination tokens.
//
// A token is the AES-256-GCM seal of the JSON page state, keyed by a
// digest of the process session secret. Tokens are non-portable across
// deployments and carry no user-visible data; they never appear in
// logs.
package cursor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/apiclient/api-store/pkg/model"
)

// PageState is the list state a cursor carries between calls.
type PageState struct {
	Limit      int    `json:"limit"`
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
	Query      string `json:"query,omitempty"`
	QueryField string `json:"queryField,omitempty"`
	Parent     string `json:"parent,omitempty"`
	Since      int64  `json:"since,omitempty"`
	LastKey    string `json:"lastKey,omitempty"`
}

// Codec encrypts and decrypts cursors.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the cursor key from the session secret.
func NewCodec(secret string) (*Codec, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// Encode seals the page state into an opaque token.
func (c *Codec) Encode(state PageState) (string, error) {
	plain, err := json.Marshal(state)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode opens a token. Any tamper or format error is reported as an
// invalid cursor.
func (c *Codec) Decode(token string) (PageState, error) {
	var state PageState

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return state, model.NewError(model.ErrInvalidCursor, "invalid cursor")
	}
	if len(raw) < c.aead.NonceSize() {
		return state, model.NewError(model.ErrInvalidCursor, "invalid cursor")
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return state, model.NewError(model.ErrInvalidCursor, "invalid cursor")
	}

	if err := json.Unmarshal(plain, &state); err != nil {
		return state, model.NewError(model.ErrInvalidCursor, "invalid cursor")
	}
	return state, nil
}
