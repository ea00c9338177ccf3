package state

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
)

const MinSigningKeyBytes = 32

// SignedPayload is the CBOR document signed into the state cookie.
type SignedPayload struct {
	State     string `cbor:"1,keyasint"`
	ExpiresAt int64  `cbor:"2,keyasint"`
}

// SignedCookieBinder keeps the state in a cookie holding a compact JWS
// (HS256) over a CBOR SignedPayload. A cookie planted by someone without
// the key, or one older than the TTL, is rejected.
type SignedCookieBinder struct {
	cookieJar
	key    []byte
	ttl    time.Duration
	length int
}

func NewSignedCookieBinder(key []byte, opts CookieOptions) (*SignedCookieBinder, error) {
	if len(key) < MinSigningKeyBytes {
		return nil, fmt.Errorf("state signing key must be at least %d bytes, got %d", MinSigningKeyBytes, len(key))
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("state ttl must be positive")
	}
	return &SignedCookieBinder{
		cookieJar: cookieJar{template: newCookieTemplate(opts)},
		key:       key,
		ttl:       opts.TTL,
		length:    DefaultLength,
	}, nil
}

func (b *SignedCookieBinder) Issue(w http.ResponseWriter) (string, error) {
	state := Generate(b.length)
	signed, err := SignPayload(b.key, SignedPayload{
		State:     state,
		ExpiresAt: time.Now().Add(b.ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	b.set(w, signed)
	return state, nil
}

func (b *SignedCookieBinder) Consume(w http.ResponseWriter, r *http.Request, presented string) error {
	stored, ok := b.take(w, r)
	if presented == "" || !ok {
		return ErrStateMismatch
	}

	payload, err := VerifyPayload(b.key, stored)
	if err != nil {
		slog.Warn("Rejected state cookie", "error", err)
		return ErrStateMismatch
	}

	if time.Now().Unix() > payload.ExpiresAt {
		slog.Info("State cookie expired", "expires_at", time.Unix(payload.ExpiresAt, 0))
		return ErrStateMismatch
	}

	if !equal(presented, payload.State) {
		return ErrStateMismatch
	}
	return nil
}

// SignPayload encodes p as CBOR and signs it with HS256.
func SignPayload(key []byte, p SignedPayload) (string, error) {
	data, err := cbor.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("unable to encode state payload: %w", err)
	}
	signed, err := jws.Sign(data, jws.WithKey(jwa.HS256, key))
	if err != nil {
		return "", fmt.Errorf("unable to sign state payload: %w", err)
	}
	return string(signed), nil
}

// VerifyPayload checks the signature of a value produced by SignPayload and
// decodes it. Expiry is left to the caller.
func VerifyPayload(key []byte, signed string) (*SignedPayload, error) {
	data, err := jws.Verify([]byte(signed), jws.WithKey(jwa.HS256, key))
	if err != nil {
		return nil, fmt.Errorf("unable to verify state signature: %w", err)
	}
	var p SignedPayload
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unable to decode state payload: %w", err)
	}
	return &p, nil
}

// GenerateRandomKey returns a random key of the given length in bits.
func GenerateRandomKey(bits int) []byte {
	key := make([]byte, bits/8)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	return key
}
