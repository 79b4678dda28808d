package tokenstore

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pipeboard-co/meta-ads-mcp/internal/models"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Codec converts records to and from their at-rest representation.
type Codec interface {
	Encode(rec *models.TokenRecord) ([]byte, error)
	Decode(data []byte) (*models.TokenRecord, error)
}

// JSONCodec stores records as plain JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(rec *models.TokenRecord) ([]byte, error) {
	return json.Marshal(rec)
}

func (JSONCodec) Decode(data []byte) (*models.TokenRecord, error) {
	var rec models.TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.Value == "" {
		return nil, errors.New("record has no token value")
	}
	return &rec, nil
}

const sealedInfo = "meta-ads-mcp token cache v1"

// SealedCodec encrypts JSON records with XChaCha20-Poly1305. The output
// is nonce || ciphertext. A record sealed under a different key fails
// to decode, which the store reports as a miss.
type SealedCodec struct {
	aead cipher.AEAD
}

// NewSealedCodec derives a 256-bit key from passphrase with HKDF-SHA256.
func NewSealedCodec(passphrase string) (*SealedCodec, error) {
	if passphrase == "" {
		return nil, errors.New("empty token cache key")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(passphrase), nil, []byte(sealedInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("deriving token cache key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	return &SealedCodec{aead: aead}, nil
}

func (c *SealedCodec) Encode(rec *models.TokenRecord) ([]byte, error) {
	plain, err := JSONCodec{}.Encode(rec)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plain)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

func (c *SealedCodec) Decode(data []byte) (*models.TokenRecord, error) {
	ns := c.aead.NonceSize()
	if len(data) < ns+c.aead.Overhead() {
		return nil, errors.New("sealed record too short")
	}

	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("opening sealed record: %w", err)
	}

	return JSONCodec{}.Decode(plain)
}
