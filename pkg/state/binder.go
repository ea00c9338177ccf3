package state

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// DefaultCookieName is the cookie holding the issued state.
const DefaultCookieName = "spotify_auth_state"

var ErrStateMismatch = errors.New("state mismatch")

// Binder ties an issued state to the client that started the login.
// Consume must invalidate whatever Issue stored, whether or not the
// presented state matches.
type Binder interface {
	Issue(w http.ResponseWriter) (string, error)
	Consume(w http.ResponseWriter, r *http.Request, presented string) error
}

type CookieOptions struct {
	Name   string
	Secure bool
	TTL    time.Duration
}

func newCookieTemplate(opts CookieOptions) *http.Cookie {
	name := opts.Name
	if name == "" {
		name = DefaultCookieName
	}
	// Lax, not Strict: the callback arrives as a cross-site top-level redirect
	return &http.Cookie{
		Name:     name,
		Path:     "/",
		Secure:   opts.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(opts.TTL.Seconds()),
	}
}

// cookieJar reads, writes and clears the state cookie. It is shared by all
// binders, which differ only in what they put into the cookie.
type cookieJar struct {
	template *http.Cookie
}

func (j cookieJar) set(w http.ResponseWriter, value string) {
	cookie := *j.template
	cookie.Value = value
	http.SetCookie(w, &cookie)
}

// take returns the stored value and clears the cookie if it was present.
func (j cookieJar) take(w http.ResponseWriter, r *http.Request) (string, bool) {
	cookie, err := r.Cookie(j.template.Name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	cleared := *j.template
	cleared.Value = ""
	cleared.MaxAge = -1
	http.SetCookie(w, &cleared)
	return cookie.Value, true
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// CookieBinder stores the raw state in a plain cookie. The cookie is not
// authenticated; see SignedCookieBinder for a tamper-evident variant.
type CookieBinder struct {
	cookieJar
	length int
}

func NewCookieBinder(opts CookieOptions) *CookieBinder {
	return &CookieBinder{
		cookieJar: cookieJar{template: newCookieTemplate(opts)},
		length:    DefaultLength,
	}
}

func (b *CookieBinder) Issue(w http.ResponseWriter) (string, error) {
	state := Generate(b.length)
	b.set(w, state)
	return state, nil
}

func (b *CookieBinder) Consume(w http.ResponseWriter, r *http.Request, presented string) error {
	stored, ok := b.take(w, r)
	if presented == "" || !ok {
		slog.Debug("State missing", "presented", presented != "", "stored", ok)
		return ErrStateMismatch
	}
	if !equal(presented, stored) {
		return ErrStateMismatch
	}
	return nil
}
