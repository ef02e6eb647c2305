// Package cli is the command tree of the tracker CLI. Every command that
// touches the signed-in owner's data runs through a tracker core, so the CLI
// sees the same optimistic, feed-reconciled state a UI would.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sakif/progress-tracker/internal/client"
	"github.com/sakif/progress-tracker/internal/config"
	"github.com/sakif/progress-tracker/internal/coordinator"
	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/session"
	"github.com/sakif/progress-tracker/internal/tracker"
)

// App holds what every command needs. Config is loaded from the environment
// by main; the persistent flags override it.
type App struct {
	Config config.CLI
	Logger *slog.Logger

	// IsInteractive reports whether stdout is a terminal. It picks the
	// output format when --output is auto. Nil means not interactive.
	IsInteractive func() bool
	// Clipboard copies text to the system clipboard. Nil disables --copy.
	Clipboard func(string) error

	output outputFormat
}

// NewRootCmd creates the top-level "tracker" command and registers all
// subcommands against app.
func NewRootCmd(app *App) *cobra.Command {
	if app.Logger == nil {
		app.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if app.output == "" {
		app.output = outputAuto
	}

	root := &cobra.Command{
		Use:           "tracker",
		Short:         "Track projects, XP, goals and badges",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&app.Config.URL, "url", app.Config.URL, "Server base URL (env TRACKER_URL)")
	pf.StringVar(&app.Config.Token, "token", app.Config.Token, "API token from /api/token (env TRACKER_TOKEN)")
	pf.Var(&app.output, "output", "Output format: auto, text or json")

	root.AddCommand(
		newStatusCmd(app),
		newProjectsCmd(app),
		newGoalsCmd(app),
		newBadgesCmd(app),
		newChallengesCmd(app),
		newShareCmd(app),
		newPublicCmd(app),
		newLeaderboardCmd(app),
		newWatchCmd(app),
	)
	return root
}

type outputFormat string

const (
	outputAuto outputFormat = "auto"
	outputText outputFormat = "text"
	outputJSON outputFormat = "json"
)

var _ pflag.Value = (*outputFormat)(nil)

func (o *outputFormat) String() string { return string(*o) }
func (o *outputFormat) Type() string   { return "format" }

func (o *outputFormat) Set(s string) error {
	switch f := outputFormat(strings.ToLower(s)); f {
	case outputAuto, outputText, outputJSON:
		*o = f
		return nil
	default:
		return fmt.Errorf("must be one of auto, text, json")
	}
}

func (a *App) wantJSON() bool {
	switch a.output {
	case outputJSON:
		return true
	case outputText:
		return false
	}
	return a.IsInteractive == nil || !a.IsInteractive()
}

// render writes v as indented JSON, or calls text when the output is for a
// person.
func (a *App) render(cmd *cobra.Command, v any, text func(w io.Writer) error) error {
	w := cmd.OutOrStdout()
	if a.wantJSON() {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

func (a *App) client() *client.Client {
	c := client.New(a.Config.URL, a.Config.Token)
	c.SetLogger(a.Logger)
	return c
}

// open signs in with the configured token and starts a tracker core against
// the server. The caller must Close it; Close waits for background writes.
func (a *App) open(ctx context.Context) (*tracker.Tracker, error) {
	if a.Config.Token == "" {
		return nil, fmt.Errorf("no token: sign in at %s/auth/github/login, then set TRACKER_TOKEN from %s/api/token",
			strings.TrimRight(a.Config.URL, "/"), strings.TrimRight(a.Config.URL, "/"))
	}

	sess := session.NewManager(a.Logger)
	if _, err := sess.SignInWithToken(a.Config.Token); err != nil {
		return nil, fmt.Errorf("signing in: %w", err)
	}

	c := a.client()
	tr := tracker.New(c, c, sess, a.Logger, tracker.Options{
		Coordinator: coordinator.Options{EarlyHour: a.Config.BadgeEarlyHour},
	})
	if err := tr.Start(ctx); err != nil {
		tr.Close()
		return nil, fmt.Errorf("starting tracker: %w", err)
	}
	return tr, nil
}

// resolve finds the entity whose id equals input or, failing that, is the
// only one starting with it.
func resolve[T model.Entity](kind, input string, items []T) (T, error) {
	var zero T
	if input == "" {
		return zero, fmt.Errorf("%s id is required", kind)
	}
	for _, it := range items {
		if it.EntityID() == input {
			return it, nil
		}
	}

	var matches []T
	for _, it := range items {
		if strings.HasPrefix(it.EntityID(), input) {
			matches = append(matches, it)
		}
	}
	switch len(matches) {
	case 0:
		return zero, fmt.Errorf("%s not found: %q", kind, input)
	case 1:
		return matches[0], nil
	default:
		return zero, fmt.Errorf("%s id prefix %q is ambiguous (%d matches)", kind, input, len(matches))
	}
}

// shareLink is the public page URL for slug.
func shareLink(baseURL, slug string) string {
	return strings.TrimRight(baseURL, "/") + "/p/" + slug
}
