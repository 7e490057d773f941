// Package cli parses and runs wikitool commands, one at a time or from an
// interactive shell.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"wikitool/internal/config"
	"wikitool/internal/contrib"
	"wikitool/internal/fetcher"
	"wikitool/internal/mediawiki"
	"wikitool/internal/model"
	"wikitool/internal/notify"
	"wikitool/internal/observability"
	"wikitool/internal/publish"
	"wikitool/internal/storage"
)

// ErrNotConnected is returned by commands that need a site before connect
// succeeded.
var ErrNotConnected = errors.New("not connected to a wiki site, use connect first")

// ErrExit is returned by the exit command.
var ErrExit = errors.New("exit")

// Client is everything the commands use of a wiki site.
type Client interface {
	fetcher.Site
	contrib.Site
	publish.Site
	RecentChanges(ctx context.Context, days, limit int) ([]model.Change, error)
	Site() config.Site
}

// Dialer opens a Client for site.
type Dialer func(ctx context.Context, site config.Site) (Client, error)

// Options configures a Shell.
type Options struct {
	Config  *config.Config
	Log     *slog.Logger
	Metrics *observability.Metrics
	// Store records runs. It may be nil.
	Store storage.Storage
	// Notifier is told about finished runs. It may be nil.
	Notifier notify.Sender
	Out      io.Writer
	// Dial replaces the MediaWiki client, mainly for tests.
	Dial Dialer
	// Now replaces the clock of the contributions command.
	Now func() time.Time
}

// Shell executes commands against the connected site.
type Shell struct {
	cfg      *config.Config
	log      *slog.Logger
	metrics  *observability.Metrics
	store    storage.Storage
	notifier notify.Sender
	out      io.Writer
	dial     Dialer
	now      func() time.Time

	client Client
}

// New creates a Shell with no site connected.
func New(opts Options) *Shell {
	s := &Shell{
		cfg:      opts.Config,
		log:      opts.Log,
		metrics:  opts.Metrics,
		store:    opts.Store,
		notifier: opts.Notifier,
		out:      opts.Out,
		dial:     opts.Dial,
		now:      opts.Now,
	}
	if s.cfg == nil {
		s.cfg = &config.Config{}
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.metrics == nil {
		s.metrics = observability.New()
	}
	if s.notifier == nil {
		s.notifier = notify.Discard{}
	}
	if s.out == nil {
		s.out = os.Stdout
	}
	if s.dial == nil {
		s.dial = s.dialMediaWiki
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Shell) dialMediaWiki(ctx context.Context, site config.Site) (Client, error) {
	c, err := mediawiki.New(mediawiki.Options{
		Site:              site,
		UserAgent:         s.cfg.UserAgent,
		RequestsPerSecond: s.cfg.RequestsPerSecond,
		Burst:             s.cfg.Burst,
		Metrics:           s.metrics,
	})
	if err != nil {
		return nil, err
	}
	if site.Auth == config.AuthOldLogin {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Connect opens site and makes it the current one.
func (s *Shell) Connect(ctx context.Context, site config.Site) error {
	c, err := s.dial(ctx, site)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", site.Host, err)
	}
	s.client = c
	s.log.Info("connected", "host", c.Site().Host, "auth", c.Site().Auth)
	return nil
}

var argSpecs = map[string]argSpec{
	"connect": {keys: []string{"path", "scheme", "auth", "username", "password", "client_pem", "key_pem"}},
	"getpage": {
		values:   []string{"-output", "-filename"},
		optional: []string{"-L"},
		flags:    []string{"-d", "-e", "-t"},
	},
	"upload": {
		values: []string{"-input", "-filter", "-filter_encoding", "-desc", "-match", "-skip"},
		flags:  []string{"-R", "-I"},
	},
	"edit": {
		values: []string{"-input", "-encoding", "-filter", "-filter_encoding", "-summary", "-match", "-skip", "-FD"},
		flags:  []string{"-R", "-U", "-FR", "-FI"},
	},
	"contributions": {
		values: []string{"-para_file", "-out", "-name", "-add_category", "-summary", "-every"},
		flags:  []string{"-add_filter"},
	},
	"recent": {values: []string{"-days", "-limit"}},
}

// Exec runs one command line. It returns ErrExit for the exit command.
func (s *Shell) Exec(ctx context.Context, line string) error {
	tokens, err := Tokenize(line)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}
	cmd := strings.ToLower(tokens[0])
	args, err := parseArgs(tokens[1:], argSpecs[cmd])
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}

	s.log.Debug("command", "cmd", cmd, "args", tokens[1:])
	start := time.Now()
	defer func() {
		s.metrics.CommandDuration.WithLabelValues(cmd).Observe(time.Since(start).Seconds())
	}()

	switch cmd {
	case "help":
		s.println(helpText)
		return nil
	case "exit", "quit":
		return ErrExit
	case "connect":
		return s.handleConnect(ctx, args)
	case "reconnect":
		return s.handleReconnect(ctx)
	case "site":
		return s.handleSite()
	case "getpage":
		return s.handleGetPage(ctx, args)
	case "upload":
		return s.handleUpload(ctx, args)
	case "edit":
		return s.handleEdit(ctx, args)
	case "contributions":
		return s.handleContributions(ctx, args)
	case "recent":
		return s.handleRecent(ctx, args)
	case "history":
		return s.handleHistory(ctx, args)
	default:
		return fmt.Errorf("unknown command %q, use help", cmd)
	}
}

// Run reads commands from in until exit or end of input. An interrupt
// stops the running command at its next safe point and returns to the
// prompt.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, _ = fmt.Fprint(s.out, "wikitool> ")
		if !scanner.Scan() {
			s.println("")
			return scanner.Err()
		}

		cmdCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		err := s.Exec(cmdCtx, scanner.Text())
		stop()
		switch {
		case errors.Is(err, ErrExit):
			return nil
		case err != nil:
			s.println("error: " + err.Error())
		}
	}
}

func (s *Shell) connected() (Client, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

func (s *Shell) println(text string) {
	_, _ = fmt.Fprintln(s.out, text)
}
