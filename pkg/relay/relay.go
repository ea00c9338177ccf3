// Package relay implements the three endpoints of the authorization-code
// relay: login, callback and refresh.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gematik/authrelay/pkg/state"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"golang.org/x/oauth2"
)

const (
	SpotifyAuthorizeURL    = "https://accounts.spotify.com/authorize"
	SpotifyTokenURL        = "https://accounts.spotify.com/api/token"
	DefaultExchangeTimeout = 10 * time.Second
)

type Config struct {
	ClientID        string        `validate:"required"`
	ClientSecret    string        `validate:"required"`
	RedirectURI     string        `validate:"required,url"`
	Scopes          []string      `validate:"dive,required"`
	AuthorizeURL    string        `validate:"omitempty,url"`
	TokenURL        string        `validate:"omitempty,url"`
	ExchangeTimeout time.Duration `validate:"gte=0"`
}

type Controller struct {
	cfg          Config
	oauth2Config *oauth2.Config
	binder       state.Binder
	responder    Responder
	api          Responder
	exchanger    Exchanger
	httpClient   *http.Client
	validate     *validator.Validate
}

type Option func(*Controller) error

// WithStateBinder replaces the default plain cookie binder.
func WithStateBinder(binder state.Binder) Option {
	return func(ctl *Controller) error {
		ctl.binder = binder
		return nil
	}
}

// WithResponder sets how the callback result is delivered.
func WithResponder(responder Responder) Option {
	return func(ctl *Controller) error {
		ctl.responder = responder
		return nil
	}
}

func WithExchanger(exchanger Exchanger) Option {
	return func(ctl *Controller) error {
		ctl.exchanger = exchanger
		return nil
	}
}

// WithHTTPClient sets the client used for the token endpoint. Ignored when
// an Exchanger is given.
func WithHTTPClient(client *http.Client) Option {
	return func(ctl *Controller) error {
		ctl.httpClient = client
		return nil
	}
}

func New(cfg Config, opts ...Option) (*Controller, error) {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}

	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = SpotifyAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = SpotifyTokenURL
	}
	if cfg.ExchangeTimeout == 0 {
		cfg.ExchangeTimeout = DefaultExchangeTimeout
	}

	ctl := &Controller{
		cfg:       cfg,
		binder:    state.NewCookieBinder(state.CookieOptions{}),
		responder: JSONResponder{},
		api:       JSONResponder{},
		validate:  validate,
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			RedirectURL: cfg.RedirectURI,
			Scopes:      cfg.Scopes,
		},
	}

	for _, opt := range opts {
		if err := opt(ctl); err != nil {
			return nil, err
		}
	}

	if ctl.exchanger == nil {
		ctl.exchanger = NewOAuth2Exchanger(ctl.oauth2Config, ctl.httpClient)
	}

	return ctl, nil
}

func (ctl *Controller) MountRoutes(group *echo.Group) {
	group.GET("/login", ctl.LoginEndpoint)
	group.GET("/callback", ctl.CallbackEndpoint)
	group.GET("/refresh", ctl.RefreshEndpoint)
	group.POST("/refresh", ctl.RefreshEndpoint)
}

func (ctl *Controller) LoginEndpoint(c echo.Context) error {
	st, err := ctl.binder.Issue(c.Response())
	if err != nil {
		return ctl.fail(c, ctl.api, elaborateError(errTemplateInternalError, "Failed to issue state: %v", err))
	}

	var params []oauth2.AuthCodeOption
	if len(ctl.oauth2Config.Scopes) == 0 {
		// x/oauth2 drops an empty scope; the authorize request always carries one
		params = append(params, oauth2.SetAuthURLParam("scope", ""))
	}
	authURL := ctl.oauth2Config.AuthCodeURL(st, params...)
	slog.Debug("Redirecting to authorization server", "url", authURL)

	return c.Redirect(http.StatusFound, authURL)
}

func (ctl *Controller) CallbackEndpoint(c echo.Context) error {
	presented := c.QueryParam("state")
	if err := ctl.binder.Consume(c.Response(), c.Request(), presented); err != nil {
		return ctl.fail(c, ctl.responder, elaborateError(errTemplateStateMismatch, "State check failed: %v", err))
	}

	if upstreamErr := c.QueryParam("error"); upstreamErr != "" {
		return ctl.fail(c, ctl.responder, elaborateError(errTemplateUpstreamExchange, "Authorization server returned error '%s'", upstreamErr))
	}

	code := c.QueryParam("code")
	if code == "" {
		return ctl.fail(c, ctl.responder, elaborateError(errTemplateUpstreamExchange, "Authorization code is missing in callback request"))
	}

	ctx, cancel := ctl.exchangeContext(c)
	defer cancel()

	tokens, err := ctl.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		return ctl.fail(c, ctl.responder, elaborateError(errTemplateUpstreamExchange, "Failed to exchange code for token: %v", err))
	}

	slog.Info("Authorization code exchanged", "expires_in", tokens.ExpiresIn, "refresh_token", tokens.RefreshToken != "")
	return ctl.responder.Tokens(c, tokens)
}

type refreshRequest struct {
	RefreshToken string `query:"refreshToken" form:"refreshToken" json:"refreshToken" validate:"required"`
}

func (ctl *Controller) RefreshEndpoint(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return ctl.fail(c, ctl.api, elaborateError(errTemplateMissingRefreshToken, "Unable to bind refresh request: %v", err))
	}
	// echo binds the query string for GET only
	if req.RefreshToken == "" {
		req.RefreshToken = c.QueryParam("refreshToken")
	}
	if err := ctl.validate.Struct(req); err != nil {
		return ctl.fail(c, ctl.api, elaborateError(errTemplateMissingRefreshToken, "Invalid refresh request: %v", err))
	}

	ctx, cancel := ctl.exchangeContext(c)
	defer cancel()

	tokens, err := ctl.exchanger.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return ctl.fail(c, ctl.api, elaborateError(errTemplateUpstreamExchange, "Failed to refresh token: %v", err))
	}

	slog.Info("Access token refreshed", "expires_in", tokens.ExpiresIn)
	return ctl.api.Tokens(c, &TokenResult{
		AccessToken: tokens.AccessToken,
		ExpiresIn:   tokens.ExpiresIn,
	})
}

// exchangeContext detaches the outbound call from the inbound connection:
// a dropped client does not abort the exchange, only the timeout does.
func (ctl *Controller) exchangeContext(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(c.Request().Context()), ctl.cfg.ExchangeTimeout)
}

func (ctl *Controller) fail(c echo.Context, responder Responder, err *Error) error {
	if err.HttpStatusCode >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err, "path", c.Path())
	} else {
		slog.Warn("Request rejected", "error", err, "path", c.Path())
	}
	return responder.Error(c, err)
}
