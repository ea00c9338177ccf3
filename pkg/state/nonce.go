package state

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-secure-stdlib/nonceutil"
)

// NonceBinder uses nonceutil nonces as state. The nonce is also kept in
// the state cookie, and Consume redeems it server-side, so a replayed
// cookie/state pair fails even when the browser still holds the cookie.
// Expired and redeemed nonces are tidied once per TTL until Close.
type NonceBinder struct {
	cookieJar
	nonces nonceutil.NonceService

	stop     chan struct{}
	stopOnce sync.Once
}

func NewNonceBinder(opts CookieOptions) (*NonceBinder, error) {
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("state ttl must be positive")
	}
	nonces := nonceutil.NewNonceServiceWithValidity(opts.TTL)
	if err := nonces.Initialize(); err != nil {
		return nil, fmt.Errorf("could not initialize nonce service: %w", err)
	}
	b := &NonceBinder{
		cookieJar: cookieJar{template: newCookieTemplate(opts)},
		nonces:    nonces,
		stop:      make(chan struct{}),
	}
	go b.tidyLoop(opts.TTL)
	return b, nil
}

func (b *NonceBinder) Issue(w http.ResponseWriter) (string, error) {
	nonce, _, err := b.nonces.Get()
	if err != nil {
		return "", fmt.Errorf("could not issue nonce: %w", err)
	}
	b.set(w, nonce)
	return nonce, nil
}

func (b *NonceBinder) Consume(w http.ResponseWriter, r *http.Request, presented string) error {
	stored, ok := b.take(w, r)
	if presented == "" || !ok || !equal(presented, stored) {
		return ErrStateMismatch
	}
	if !b.nonces.Redeem(presented) {
		slog.Warn("State nonce unknown, expired or already redeemed")
		return ErrStateMismatch
	}
	return nil
}

// Tidy releases the memory held for expired and redeemed nonces.
func (b *NonceBinder) Tidy() *nonceutil.NonceStatus {
	status := b.nonces.Tidy()
	slog.Debug("Tidied state nonces", "issued", status.Issued, "outstanding", status.Outstanding)
	return status
}

// Close stops the background tidy. It is safe to call more than once.
func (b *NonceBinder) Close() error {
	b.stopOnce.Do(func() {
		close(b.stop)
	})
	return nil
}

func (b *NonceBinder) tidyLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.Tidy()
		}
	}
}
