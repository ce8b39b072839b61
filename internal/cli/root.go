// Package cli implements chatctl, a terminal client for the chat service.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cedromirror/talkcart-web-sub008/internal/client/api"
	"github.com/cedromirror/talkcart-web-sub008/internal/client/cache"
	"github.com/cedromirror/talkcart-web-sub008/internal/infra/obs"
)

var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	apiURL   string
	token    string
	cacheDir string
	timeout  time.Duration
	verbose  bool
}

// NewRootCommand builds the chatctl command tree. Flags fall back to CHAT_API_URL,
// CHAT_TOKEN and CHAT_CACHE_DIR.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Terminal client for TalkCart conversations",
		Long:          "chatctl lists, opens and writes to TalkCart conversations, keeping a private\nlist cache per signed-in user on this device.",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api", envOr("CHAT_API_URL", "http://localhost:8080"), "chat service base URL")
	flags.StringVar(&opts.token, "token", os.Getenv("CHAT_TOKEN"), "bearer token")
	flags.StringVar(&opts.cacheDir, "cache-dir", envOr("CHAT_CACHE_DIR", defaultCacheDir()), "directory of the local conversation cache")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall command timeout")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newTokenCommand(),
		newConversationsCommand(opts),
		newOpenCommand(opts),
		newStartCommand(opts),
		newSupportCommand(opts),
		newSendCommand(opts),
		newForgetCommand(opts),
	)
	return root
}

// Execute runs chatctl and returns the process exit code.
func Execute(ctx context.Context) int {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ".talkcart-chat"
	}
	return filepath.Join(dir, "talkcart-chat")
}

// session bundles what a command needs to talk to the service as one user.
type session struct {
	client *api.Client
	store  cache.Store
	cache  *cache.Reconciler
	user   string
	out    io.Writer
}

func openSession(cmd *cobra.Command, opts *options) (*session, error) {
	client := api.New(opts.apiURL, opts.token)
	user, err := client.Identity()
	if err != nil {
		return nil, fmt.Errorf("%w (set --token or CHAT_TOKEN)", err)
	}
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := obs.NewLoggerWithLevel("dev", cmd.ErrOrStderr(), level)
	client.Logger = logger

	if err := os.MkdirAll(opts.cacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	store, err := cache.OpenPebble(opts.cacheDir)
	if err != nil {
		return nil, err
	}
	rec := cache.NewReconciler(store, client)
	rec.Logger = logger
	rec.Lists.Logger = logger
	rec.Messages.Logger = logger
	onAuth := func(target string, err error) {
		fmt.Fprintf(cmd.ErrOrStderr(), "token rejected while loading %s; mint a new one with `chatctl token`\n", target)
	}
	rec.Lists.OnAuthFailure = onAuth
	rec.Messages.OnAuthFailure = onAuth
	return &session{client: client, store: store, cache: rec, user: user, out: cmd.OutOrStdout()}, nil
}

func (s *session) close() error {
	s.cache.Close()
	return s.store.Close()
}

func withTimeout(cmd *cobra.Command, opts *options) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opts.timeout)
}

// explain turns client errors into something a person at a terminal can act on.
func explain(err error) error {
	var apiErr *api.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cache.ErrStaleEntry):
		return fmt.Errorf("conversation is no longer available and was removed from the list: %w", err)
	case errors.As(err, &apiErr) && apiErr.Code != "":
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	return err
}
