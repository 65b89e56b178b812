// Package armenotech verifies payment callbacks from the Armenotech gateway
// and reads transactions back from its merchant API.
//
// A callback body is a flat JSON object carrying md5_body_sig, the hex MD5 of
// the canonical JSON of every other field followed by the shared secret.
// Canonical JSON has sorted keys, no HTML escaping and numbers kept as sent.
package armenotech

import (
	"bytes"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const SignatureField = "md5_body_sig"

var (
	ErrMissingSignature = errors.New("armenotech: missing signature")
	ErrInvalidSignature = errors.New("armenotech: signature mismatch")
	ErrMalformedBody    = errors.New("armenotech: malformed callback body")
)

// Callback is a verified payment notification.
type Callback struct {
	TransactionGUID string      `json:"transaction_guid"`
	Status          string      `json:"status"`
	Amount          json.Number `json:"amount"`
	Currency        string      `json:"currency"`
	UserID          string      `json:"user_id"`
	Tokens          json.Number `json:"tokens,omitempty"`
	PlanName        string      `json:"plan_name,omitempty"`
}

// Succeeded reports whether the callback confirms a captured payment.
func (c *Callback) Succeeded() bool { return succeeded(c.Status) }

func succeeded(status string) bool {
	switch strings.ToLower(status) {
	case "success", "succeeded", "completed", "paid", "approved":
		return true
	}
	return false
}

// ParseCallback verifies the signature with secret and decodes the body.
func ParseCallback(body []byte, secret string) (*Callback, error) {
	fields, err := decodeFields(body)
	if err != nil {
		return nil, err
	}

	given, _ := fields[SignatureField].(string)
	if given == "" || secret == "" {
		return nil, ErrMissingSignature
	}
	delete(fields, SignatureField)

	expected, err := sign(fields, secret)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(given)), []byte(expected)) != 1 {
		return nil, ErrInvalidSignature
	}

	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return &cb, nil
}

// Sign returns body with md5_body_sig set, for tests and local tooling.
func Sign(body []byte, secret string) ([]byte, error) {
	fields, err := decodeFields(body)
	if err != nil {
		return nil, err
	}
	delete(fields, SignatureField)
	sig, err := sign(fields, secret)
	if err != nil {
		return nil, err
	}
	fields[SignatureField] = sig
	return canonical(fields)
}

func decodeFields(body []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return nil, ErrMalformedBody
	}
	return fields, nil
}

func sign(fields map[string]interface{}, secret string) (string, error) {
	data, err := canonical(fields)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(append(data, secret...))
	return hex.EncodeToString(sum[:]), nil
}

func canonical(fields map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
