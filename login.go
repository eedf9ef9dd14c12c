package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/gdrive-go/internal/config"
	"github.com/tonimelisma/gdrive-go/internal/gdrive"
)

const (
	stateTokenBytes  = 16
	callbackPath     = "/"
	shutdownTimeout  = 5 * time.Second
	loginWaitTimeout = 5 * time.Minute
)

// Login flags, shared by the root and shell commands.
var (
	flagCode      string
	flagManual    bool
	flagNoBrowser bool
)

func addLoginFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagCode, "code", "", "authorization code to exchange instead of signing in through the browser")
	cmd.Flags().BoolVar(&flagManual, "manual", false, "print the consent URL and read the code or redirect URL from stdin")
	cmd.Flags().BoolVar(&flagNoBrowser, "no-browser", false, "print the consent URL instead of opening a browser")
}

func newAuthURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth-url",
		Short: "Print the consent page URL for a manual sign-in",
		Long: `Print the Google consent page URL using the redirect URI registered in the
client secrets file. After approving access, pass the code from the redirect
to "gdrive-go --code <code>".`,
		Args: cobra.NoArgs,
		RunE: runAuthURL,
	}
}

func runAuthURL(cmd *cobra.Command, _ []string) error {
	cc, err := config.LoadClientSecrets(resolvedCfg.SecretsPath)
	if err != nil {
		return err
	}

	state, err := generateState()
	if err != nil {
		return fmt.Errorf("generating OAuth2 state: %w", err)
	}

	sess := sessionFactory(resolvedCfg, buildLogger())(cc)

	fmt.Fprintln(cmd.OutOrStdout(), sess.AuthCodeURL(state))

	return nil
}

// loginFlow signs a new session in. Exactly one of three paths runs: a code
// given on the command line, a manual paste of the code, or a loopback
// listener that captures the redirect.
type loginFlow struct {
	code      string
	manual    bool
	noBrowser bool

	in      io.Reader
	out     io.Writer
	openURL func(string) error
	logger  *slog.Logger
}

// run builds a session with newSession and authenticates it.
func (f *loginFlow) run(
	ctx context.Context, cc gdrive.ClientConfig, newSession func(gdrive.ClientConfig) driveSession,
) (driveSession, error) {
	switch {
	case f.code != "":
		sess := newSession(cc)
		if err := sess.Authenticate(ctx, f.code); err != nil {
			return nil, err
		}

		return sess, nil
	case f.manual:
		return f.runManual(ctx, cc, newSession)
	default:
		return f.runLoopback(ctx, cc, newSession)
	}
}

func (f *loginFlow) runManual(
	ctx context.Context, cc gdrive.ClientConfig, newSession func(gdrive.ClientConfig) driveSession,
) (driveSession, error) {
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating OAuth2 state: %w", err)
	}

	sess := newSession(cc)

	fmt.Fprintf(f.out, "Open this URL in your browser:\n%s\n\n", sess.AuthCodeURL(state))
	fmt.Fprint(f.out, "Paste the authorization code or the full redirect URL: ")

	// NewReader returns f.in itself when it is already a *bufio.Reader, so
	// no input meant for the shell is consumed here.
	line, err := bufio.NewReader(f.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading authorization code: %w", err)
	}

	code, err := extractCode(line, state)
	if err != nil {
		return nil, err
	}

	if err := sess.Authenticate(ctx, code); err != nil {
		return nil, err
	}

	return sess, nil
}

func (f *loginFlow) runLoopback(
	ctx context.Context, cc gdrive.ClientConfig, newSession func(gdrive.ClientConfig) driveSession,
) (driveSession, error) {
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating OAuth2 state: %w", err)
	}

	// Buffered so a late or duplicate callback never blocks the handler.
	resultCh := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	registerCallbackHandler(mux, state, resultCh)

	srv, port, err := startCallbackServer(ctx, mux, resultCh, f.logger)
	if err != nil {
		return nil, err
	}
	defer shutdownCallbackServer(srv, f.logger)

	cc.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d%s", port, callbackPath)
	sess := newSession(cc)
	authURL := sess.AuthCodeURL(state)

	if f.noBrowser {
		fmt.Fprintf(f.out, "Open this URL in your browser:\n%s\n", authURL)
	} else {
		launchBrowser(authURL, f.openURL, f.out, f.logger)
	}

	waitCtx, cancel := context.WithTimeout(ctx, loginWaitTimeout)
	defer cancel()

	code, err := waitForCallback(waitCtx, resultCh)
	if err != nil {
		return nil, err
	}

	if err := sess.Authenticate(ctx, code); err != nil {
		return nil, err
	}

	return sess, nil
}

// extractCode accepts either a bare authorization code or the full redirect
// URL the browser landed on. A URL carrying a state must carry ours.
func extractCode(input, state string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("no authorization code entered")
	}

	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parsing redirect URL: %w", err)
	}

	q := u.Query()

	if errParam := q.Get("error"); errParam != "" {
		return "", fmt.Errorf("authorization failed: %s", errParam)
	}

	if got := q.Get("state"); got != "" && got != state {
		return "", errors.New("OAuth2 state mismatch (possible CSRF)")
	}

	code := q.Get("code")
	if code == "" {
		return "", errors.New("redirect URL has no authorization code")
	}

	return code, nil
}

// callbackResult carries the outcome of the OAuth2 redirect.
type callbackResult struct {
	code string
	err  error
}

// startCallbackServer binds an ephemeral port on the loopback interface and
// serves mux on it. Serve failures are reported on resultCh.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, errors.New("listener address is not TCP")
	}

	port := tcpAddr.Port
	logger.Debug("callback server listening", slog.Int("port", port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			deliver(resultCh, callbackResult{err: fmt.Errorf("callback server error: %w", serveErr)})
		}
	}()

	return srv, port, nil
}

func registerCallbackHandler(mux *http.ServeMux, state string, resultCh chan<- callbackResult) {
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleOAuthCallback(w, r, state, resultCh)
	})
}

func handleOAuthCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	// Browsers also ask for /favicon.ico; only the redirect counts.
	if r.URL.Path != callbackPath {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()

	if q.Get("state") != state {
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: errors.New("OAuth2 state mismatch (possible CSRF)")})

		return
	}

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: fmt.Errorf("authorization failed: %s", errParam)})

		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		deliver(resultCh, callbackResult{err: errors.New("callback missing authorization code")})

		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Signed in to gdrive-go</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")
	deliver(resultCh, callbackResult{code: code})
}

// deliver sends without blocking; only the first result is wanted.
func deliver(ch chan<- callbackResult, res callbackResult) {
	select {
	case ch <- res:
	default:
	}
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser opens authURL, falling back to printing it.
func launchBrowser(authURL string, openURL func(string) error, out io.Writer, logger *slog.Logger) {
	logger.Debug("opening browser for authorization")

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(out, "Open this URL in your browser:\n%s\n", authURL)

		return
	}

	fmt.Fprintln(out, "Waiting for sign-in to complete in your browser...")
}

func waitForCallback(ctx context.Context, resultCh <-chan callbackResult) (string, error) {
	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		return result.code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("browser sign-in canceled: %w", ctx.Err())
	}
}

// generateState returns a random hex string for the OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// openBrowser opens url in the user's browser. The browser's own chatter
// is discarded so it cannot interleave with the shell.
func openBrowser(url string) error {
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard

	return browser.OpenURL(url)
}
