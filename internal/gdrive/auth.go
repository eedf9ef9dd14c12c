package gdrive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Google's OAuth2 endpoints, used when the client secrets file omits them.
const (
	DefaultAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
)

// Token endpoint timing.
const (
	exchangeTimeout  = 10 * time.Second
	exchangeAttempts = 3
	exchangeBackoff  = 1 * time.Second
	refreshTimeout   = 5 * time.Second
	defaultExpiresIn = time.Hour

	// expiryDelta treats a token as expired slightly early so a request
	// does not race the server-side expiry.
	expiryDelta = 10 * time.Second
)

// DefaultScopes grants full Drive access plus the profile fields shown by whoami.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// ClientConfig is the immutable OAuth2 client registration.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string // DefaultScopes when empty
}

// AuthState is the credential lifecycle state.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateAuthenticating
	StateAuthenticated
	StateExpired // authenticated, but the access token is past its expiry
)

func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// Authenticator owns the bearer credential: it exchanges authorization codes,
// renews the access token with the refresh token, and hands out tokens to
// Client. Credentials live only in memory.
type Authenticator struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	logger     *slog.Logger

	// now and backoff are overridden by tests.
	now     func() time.Time
	backoff time.Duration

	mu             sync.Mutex
	accessToken    string
	refreshToken   string
	expiry         time.Time
	authenticating bool

	refreshGroup singleflight.Group
}

// NewAuthenticator creates an Authenticator in the unauthenticated state.
// httpClient is used for token endpoint calls; nil means http.DefaultClient.
func NewAuthenticator(cfg ClientConfig, httpClient *http.Client, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}

	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	return &Authenticator{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
				// The token endpoint receives client_id and client_secret
				// in the form body, never as basic auth.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
		backoff:    exchangeBackoff,
	}
}

// AuthCodeURL returns the consent page URL. Offline access with a forced
// consent prompt makes the server issue a refresh token every time.
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// RedirectURL returns the redirect URI registered for this client.
func (a *Authenticator) RedirectURL() string {
	return a.oauth.RedirectURL
}

// Authenticate exchanges an authorization code for tokens. Network failures
// are retried up to three attempts with a fixed backoff; an HTTP error from
// the token endpoint fails immediately with an AuthError.
func (a *Authenticator) Authenticate(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return &ValidationError{Reason: "authorization code is empty"}
	}

	a.setAuthenticating(true)
	defer a.setAuthenticating(false)

	a.logger.Info("exchanging authorization code")

	var (
		tok     *oauth2.Token
		attempt int
	)

	backoff := retry.WithMaxRetries(exchangeAttempts-1, retry.NewConstant(a.backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		t, exErr := a.exchange(ctx, code)
		if exErr == nil {
			tok = t
			return nil
		}

		var netErr *NetworkError
		if !errors.As(exErr, &netErr) || ctx.Err() != nil {
			return exErr
		}

		a.logger.Warn("token exchange failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", a.backoff),
			slog.String("error", netErr.Err.Error()),
		)

		return retry.RetryableError(exErr)
	})
	if err != nil {
		a.logger.Error("authentication failed",
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)

		return err
	}

	a.store(tok, true)

	a.logger.Info("authentication successful",
		slog.Time("expiry", a.Expiry()),
		slog.Bool("refresh_token", tok.RefreshToken != ""),
	)

	return nil
}

// exchange performs one bounded token endpoint call.
func (a *Authenticator) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	tok, err := a.oauth.Exchange(a.clientContext(ctx), code)
	if err != nil {
		return nil, classifyTokenError("token exchange", err)
	}

	return tok, nil
}

// Refresh exchanges the refresh token for a new access token: one attempt,
// bounded timeout. The refresh token itself is never replaced. Failure leaves
// the previous credentials untouched. Concurrent callers share one request.
func (a *Authenticator) Refresh(ctx context.Context) error {
	_, err, _ := a.refreshGroup.Do("refresh", func() (any, error) {
		return nil, a.refresh(ctx)
	})

	return err
}

func (a *Authenticator) refresh(ctx context.Context) error {
	a.mu.Lock()
	rt := a.refreshToken
	a.mu.Unlock()

	if rt == "" {
		return ErrNoRefreshToken
	}

	a.logger.Info("refreshing access token")

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	// An empty access token forces the token source to hit the endpoint.
	src := a.oauth.TokenSource(a.clientContext(ctx), &oauth2.Token{RefreshToken: rt})

	tok, err := src.Token()
	if err != nil {
		a.logger.Warn("token refresh failed", slog.String("error", err.Error()))
		return classifyTokenError("token refresh", err)
	}

	a.store(tok, false)

	a.logger.Debug("access token refreshed", slog.Time("expiry", a.Expiry()))

	return nil
}

// AccessToken returns a usable bearer token, refreshing first when the
// current one has expired and a refresh token is available. With no token
// at all it fails with ErrNotAuthenticated. An expired token without a
// refresh token is returned as-is; the server decides.
func (a *Authenticator) AccessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	tok := a.accessToken
	canRefresh := a.refreshToken != ""
	expired := a.expiredLocked()
	a.mu.Unlock()

	if tok == "" {
		return "", ErrNotAuthenticated
	}

	if !expired || !canRefresh {
		return tok, nil
	}

	if err := a.Refresh(ctx); err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return a.accessToken, nil
}

// State reports the current lifecycle state.
func (a *Authenticator) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.authenticating:
		return StateAuthenticating
	case a.accessToken == "":
		return StateUnauthenticated
	case a.expiredLocked():
		return StateExpired
	default:
		return StateAuthenticated
	}
}

// Expiry returns the absolute expiry of the current access token.
func (a *Authenticator) Expiry() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.expiry
}

// SignOut forgets all credentials.
func (a *Authenticator) SignOut() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.accessToken = ""
	a.refreshToken = ""
	a.expiry = time.Time{}

	a.logger.Info("signed out")
}

func (a *Authenticator) setAuthenticating(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.authenticating = v
}

// store records a token response. Only an authorization code exchange may
// set the refresh token; refresh responses keep the existing one.
func (a *Authenticator) store(tok *oauth2.Token, fromExchange bool) {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = a.now().Add(defaultExpiresIn)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.accessToken = tok.AccessToken
	a.expiry = expiry

	if fromExchange {
		a.refreshToken = tok.RefreshToken
	}
}

func (a *Authenticator) expiredLocked() bool {
	if a.expiry.IsZero() {
		return false
	}

	return !a.now().Add(expiryDelta).Before(a.expiry)
}

// clientContext routes oauth2's token calls through the configured client.
func (a *Authenticator) clientContext(ctx context.Context) context.Context {
	if a.httpClient == nil {
		return ctx
	}

	return context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
}

// classifyTokenError separates HTTP rejections (AuthError, terminal) from
// transport failures (NetworkError, retryable during exchange).
func classifyTokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}

		return &AuthError{StatusCode: status, Body: string(re.Body), Err: err}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Op: op, Err: err}
	}

	return &AuthError{Err: err}
}
