package state

import "fmt"

type Mode string

const (
	ModeCookie Mode = "cookie"
	ModeSigned Mode = "signed"
	ModeNonce  Mode = "nonce"
)

// NewBinder builds the binder for mode. signingKey is only used by ModeSigned.
func NewBinder(mode Mode, signingKey []byte, opts CookieOptions) (Binder, error) {
	switch mode {
	case ModeCookie, "":
		return NewCookieBinder(opts), nil
	case ModeSigned:
		b, err := NewSignedCookieBinder(signingKey, opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	case ModeNonce:
		b, err := NewNonceBinder(opts)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown state mode '%s'", mode)
	}
}
