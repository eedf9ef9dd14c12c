package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/gdrive-go/internal/config"
	"github.com/tonimelisma/gdrive-go/internal/gdrive"
	"github.com/tonimelisma/gdrive-go/internal/session"
)

// driveSession is the session surface the shell drives. *session.Session
// implements it.
type driveSession interface {
	AuthCodeURL(state string) string
	Authenticate(ctx context.Context, code string) error
	State() gdrive.AuthState
	Expiry() time.Time
	User() *gdrive.User
	SignOut()

	List(ctx context.Context, folderID string) ([]gdrive.Item, error)
	ClearCache()
	Item(ctx context.Context, id string) (*gdrive.Item, error)
	Search(ctx context.Context, query string) ([]gdrive.Item, error)
	Quota(ctx context.Context) (*gdrive.Quota, error)
	CreateFolder(ctx context.Context, parentID, name string) (*gdrive.Item, error)
	Rename(ctx context.Context, id, newName string) (*gdrive.Item, error)
	Delete(ctx context.Context, id string) error
	Move(ctx context.Context, id, newParentID string) (*gdrive.Item, error)
	Share(ctx context.Context, id string, mode session.ShareMode, email string) (string, error)

	Upload(ctx context.Context, localPath, folderID string) (*gdrive.Item, error)
	Download(ctx context.Context, fileID, savePath string, onProgress func(session.Progress)) (int64, error)

	Current() session.Crumb
	Descend(id, name string)
	Back() session.Crumb
	GoRoot()
	Path() string
}

// idPrefix addresses an item by ID instead of by name.
const idPrefix = "id:"

var (
	errExit        = errors.New("exit")
	errNotFound    = errors.New("no such item in this folder")
	errAmbiguous   = errors.New("name is ambiguous")
	errNotAFolder  = errors.New("not a folder")
	errIsAFolder   = errors.New("is a folder")
	errUnbalanced  = errors.New("unterminated quote")
	errUnknownVerb = errors.New("unknown command")
)

func newShellCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Sign in and start the interactive shell (default)",
		Args:  cobra.NoArgs,
		RunE:  runShell,
	}

	addLoginFlags(cmd)

	return cmd
}

func runShell(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := buildLogger()

	cc, err := config.LoadClientSecrets(resolvedCfg.SecretsPath)
	if err != nil {
		return err
	}

	in := bufio.NewReader(os.Stdin)

	flow := &loginFlow{
		code:      flagCode,
		manual:    flagManual,
		noBrowser: flagNoBrowser,
		in:        in,
		out:       os.Stderr,
		openURL:   openBrowser,
		logger:    logger,
	}

	sess, err := flow.run(ctx, cc, sessionFactory(resolvedCfg, logger))
	if err != nil {
		return fmt.Errorf("signing in: %w", err)
	}

	if u := sess.User(); u != nil {
		statusf(flagQuiet, "Signed in as %s <%s>\n", u.Name, u.Email)
	} else {
		statusf(flagQuiet, "Signed in\n")
	}

	sh := newShell(ctx, sess, in, os.Stdout, os.Stderr, shellOptions{
		JSON:        flagJSON,
		Quiet:       flagQuiet,
		Interactive: isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()),
		DownloadDir: resolvedCfg.Transfers.DownloadDir,
	}, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	watcher := newInterruptWatcher(sh.interrupt, os.Exit, logger)
	sh.lineRead = watcher.disarm

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	go watcher.watch(watchCtx, sigCh)

	return sh.run(ctx)
}

type shellOptions struct {
	JSON        bool
	Quiet       bool
	Interactive bool   // stdin is a terminal: show prompts and confirmations
	DownloadDir string // default destination for get; the working directory when empty
}

// shell is the interactive command loop. Commands run one at a time on the
// loop's goroutine; transfers run on their own goroutines and report back
// through the job manager's event channel.
type shell struct {
	sess   driveSession
	in     *bufio.Reader
	out    io.Writer
	errOut io.Writer
	jobs   *jobManager
	opts   shellOptions
	logger *slog.Logger

	commands map[string]*shellCommand
	aliases  map[string]string

	// lineRead is called after every input line; the interrupt watcher
	// uses it to disarm.
	lineRead func()

	mu       sync.Mutex
	fgCancel context.CancelFunc
}

func newShell(
	ctx context.Context, sess driveSession, in *bufio.Reader, out, errOut io.Writer,
	opts shellOptions, logger *slog.Logger,
) *shell {
	sh := &shell{
		sess:     sess,
		in:       in,
		out:      &syncWriter{w: out},
		errOut:   &syncWriter{w: errOut},
		jobs:     newJobManager(ctx, sess, logger),
		opts:     opts,
		logger:   logger,
		lineRead: func() {},
	}

	sh.registerCommands()

	return sh
}

// run reads and executes commands until exit, signout, or end of input,
// then waits for in-flight transfers.
func (sh *shell) run(ctx context.Context) error {
	renderDone := make(chan struct{})

	go func() {
		defer close(renderDone)
		renderEvents(sh.jobs.events, sh.out, sh.opts.Quiet)
	}()

	defer func() {
		if n := sh.jobs.active(); n > 0 {
			sh.statusf("Waiting for %d transfer(s) to finish...\n", n)
		}

		sh.jobs.close()
		<-renderDone
	}()

	for {
		sh.prompt()

		line, err := sh.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("reading input: %w", err)
		}

		sh.lineRead()

		if err := sh.execLine(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}

			sh.printError(err)
		}
	}
}

// readLine returns the next input line without its terminator. A final
// line without a newline is returned before io.EOF.
func (sh *shell) readLine() (string, error) {
	line, err := sh.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}

		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// execLine parses and runs one command line. The command's context is
// canceled by an interrupt.
func (sh *shell) execLine(ctx context.Context, line string) error {
	args, err := splitArgs(line)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		return nil
	}

	name := args[0]
	if target, ok := sh.aliases[name]; ok {
		name = target
	}

	cmd, ok := sh.commands[name]
	if !ok {
		return fmt.Errorf("%w %q (try \"help\")", errUnknownVerb, args[0])
	}

	args = args[1:]
	if len(args) < cmd.minArgs || (cmd.maxArgs >= 0 && len(args) > cmd.maxArgs) {
		return fmt.Errorf("usage: %s", cmd.usage)
	}

	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sh.setForeground(cancel)
	defer sh.setForeground(nil)

	sh.logger.Debug("running command", slog.String("command", name))

	return cmd.run(cmdCtx, sh, args)
}

func (sh *shell) setForeground(cancel context.CancelFunc) {
	sh.mu.Lock()
	sh.fgCancel = cancel
	sh.mu.Unlock()
}

// interrupt cancels the running command and every download.
func (sh *shell) interrupt() {
	sh.mu.Lock()
	cancel := sh.fgCancel
	sh.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	n := sh.jobs.cancelAll()
	if n > 0 {
		sh.statusf("\nCanceled %d download(s). Press Ctrl-C again to quit.\n", n)
		return
	}

	sh.statusf("\nPress Ctrl-C again to quit.\n")
}

func (sh *shell) prompt() {
	if !sh.opts.Interactive {
		return
	}

	promptColor.Fprintf(sh.out, "gdrive:%s", sh.sess.Path())
	fmt.Fprint(sh.out, "> ")
}

// confirm asks a yes/no question. Without a terminal there is nobody to
// ask, so the answer is yes.
func (sh *shell) confirm(question string) bool {
	if !sh.opts.Interactive {
		return true
	}

	fmt.Fprintf(sh.out, "%s [y/N] ", question)

	answer, err := sh.readLine()
	if err != nil {
		return false
	}

	answer = strings.ToLower(strings.TrimSpace(answer))

	return answer == "y" || answer == "yes"
}

// statusf prints a status message to the shell's stderr unless quiet.
func (sh *shell) statusf(format string, args ...any) {
	if !sh.opts.Quiet {
		fmt.Fprintf(sh.errOut, format, args...)
	}
}

func (sh *shell) printError(err error) {
	errorColor.Fprint(sh.errOut, "error: ")
	fmt.Fprintln(sh.errOut, err)
}

// resolve finds an item in the current folder by name, or anywhere by
// "id:<ID>". Exact names win over case-insensitive matches.
func (sh *shell) resolve(ctx context.Context, arg string) (gdrive.Item, error) {
	if id, ok := strings.CutPrefix(arg, idPrefix); ok {
		item, err := sh.sess.Item(ctx, id)
		if err != nil {
			return gdrive.Item{}, err
		}

		return *item, nil
	}

	items, err := sh.sess.List(ctx, "")
	if err != nil {
		return gdrive.Item{}, err
	}

	matches := matchName(items, arg)

	switch len(matches) {
	case 0:
		return gdrive.Item{}, fmt.Errorf("%q: %w", arg, errNotFound)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, idPrefix+m.ID)
		}

		return gdrive.Item{}, fmt.Errorf("%q: %w, use one of: %s", arg, errAmbiguous, strings.Join(ids, " "))
	}
}

// resolveFolder resolves a move target. "/" is the root.
func (sh *shell) resolveFolder(ctx context.Context, arg string) (gdrive.Item, error) {
	if arg == "/" {
		return gdrive.Item{ID: gdrive.RootID, Name: "My Drive", IsFolder: true}, nil
	}

	item, err := sh.resolve(ctx, arg)
	if err != nil {
		return gdrive.Item{}, err
	}

	if !item.IsFolder {
		return gdrive.Item{}, fmt.Errorf("%q: %w", item.Name, errNotAFolder)
	}

	return item, nil
}

// matchName returns the items named exactly name, or failing that the items
// whose name equals it under Unicode case folding.
func matchName(items []gdrive.Item, name string) []gdrive.Item {
	var exact, folded []gdrive.Item

	fold := cases.Fold()
	want := fold.String(norm.NFC.String(name))

	for _, it := range items {
		switch {
		case it.Name == name:
			exact = append(exact, it)
		case fold.String(norm.NFC.String(it.Name)) == want:
			folded = append(folded, it)
		}
	}

	if len(exact) > 0 {
		return exact
	}

	return folded
}

// splitArgs splits a command line into words. Single quotes are literal,
// double quotes allow backslash escapes, and a backslash outside quotes
// escapes the next character.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inWord = true
		case quote == '"':
			if r == '"' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 || escaped {
		return nil, errUnbalanced
	}

	if inWord {
		args = append(args, cur.String())
	}

	return args, nil
}

// commandNames returns every registered command name, sorted.
func (sh *shell) commandNames() []string {
	names := make([]string, 0, len(sh.commands))
	for name := range sh.commands {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
