package relay

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

// Responder delivers the outcome of a token exchange to the caller.
type Responder interface {
	Tokens(c echo.Context, tokens *TokenResult) error
	Error(c echo.Context, err *Error) error
}

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// JSONResponder writes tokens and errors as JSON bodies, for API-driven flows.
type JSONResponder struct{}

func (JSONResponder) Tokens(c echo.Context, tokens *TokenResult) error {
	return c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
	})
}

func (JSONResponder) Error(c echo.Context, err *Error) error {
	return c.JSON(err.HttpStatusCode, err)
}

// RedirectResponder passes results back as query parameters on a redirect
// to the application, for browser-driven flows.
type RedirectResponder struct {
	successURL *url.URL
	errorURL   *url.URL
}

// NewRedirectResponder parses the target URLs. errorURI defaults to successURI.
func NewRedirectResponder(successURI, errorURI string) (*RedirectResponder, error) {
	successURL, err := url.Parse(successURI)
	if err != nil {
		return nil, err
	}
	errorURL := successURL
	if errorURI != "" {
		if errorURL, err = url.Parse(errorURI); err != nil {
			return nil, err
		}
	}
	return &RedirectResponder{
		successURL: successURL,
		errorURL:   errorURL,
	}, nil
}

func (r *RedirectResponder) Tokens(c echo.Context, tokens *TokenResult) error {
	params := url.Values{}
	params.Set("accessToken", tokens.AccessToken)
	if tokens.RefreshToken != "" {
		params.Set("refreshToken", tokens.RefreshToken)
	}
	params.Set("expiresIn", strconv.FormatInt(tokens.ExpiresIn, 10))
	return c.Redirect(http.StatusFound, withQuery(r.successURL, params))
}

func (r *RedirectResponder) Error(c echo.Context, err *Error) error {
	params := url.Values{}
	params.Set("error", err.Code)
	return c.Redirect(http.StatusFound, withQuery(r.errorURL, params))
}

func withQuery(base *url.URL, params url.Values) string {
	target := *base
	query := target.Query()
	for k, v := range params {
		query[k] = v
	}
	target.RawQuery = query.Encode()
	return target.String()
}
