package telemetry

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBadSignature is returned when a record's hash or signature does not match its content
var ErrBadSignature = errors.New("telemetry record signature mismatch")

// Signer makes telemetry records tamper-evident with HMAC-SHA256
type Signer struct {
	key []byte
}

// NewSigner creates a signer for the given key
func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key)}
}

// Sign fills rec.Hash and rec.Signature
func (s *Signer) Sign(rec *Record) error {
	hash, err := contentHash(*rec)
	if err != nil {
		return err
	}
	rec.Hash = hash
	rec.Signature = s.sign(hash)
	return nil
}

// Verify recomputes the content hash and checks the signature
func (s *Signer) Verify(rec Record) error {
	hash, err := contentHash(rec)
	if err != nil {
		return err
	}
	if hash != rec.Hash {
		return fmt.Errorf("%w: content hash differs", ErrBadSignature)
	}
	expected, err := hex.DecodeString(s.sign(hash))
	if err != nil {
		return err
	}
	got, err := hex.DecodeString(rec.Signature)
	if err != nil || !hmac.Equal(expected, got) {
		return fmt.Errorf("%w: signature differs", ErrBadSignature)
	}
	return nil
}

// contentHash is SHA-256 over the record's JSON with the hash and signature cleared.
// encoding/json sorts map keys, so the encoding is stable.
func contentHash(rec Record) (string, error) {
	rec.Hash, rec.Signature = "", ""
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Signer) sign(data string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
