package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CanonicalJSON re-encodes raw JSON into a canonical byte form: object keys
// sorted, no insignificant whitespace. Used for request hashing and for the
// support-event hash chain, never for storage, so number precision quirks
// of the generic decode do not leak back into payloads.
func CanonicalJSON(raw []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("canonicalizing JSON: %w", err)
	}
	// encoding/json sorts map keys deterministically on marshal.
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing JSON: %w", err)
	}
	return out, nil
}

// RequestHash computes the submit idempotency key:
// sha256(user_id ‖ canonical_json(payload)), hex-encoded.
func RequestHash(userID uuid.UUID, payload []byte) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(userID.String()))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
