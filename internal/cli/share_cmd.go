package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/tracker"
)

func newShareCmd(app *App) *cobra.Command {
	var copyLink bool

	cmd := &cobra.Command{
		Use:   "share",
		Short: "Print the public link to your portfolio, creating it if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if copyLink && app.Clipboard == nil {
				return errors.New("--copy is not available: no clipboard")
			}
			tr, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			slug, _, err := tr.Coordinator().GenerateShareSlug(cmd.Context())
			if err != nil {
				return err
			}
			link := shareLink(app.Config.URL, slug)

			copied := false
			if copyLink {
				if err := app.Clipboard(link); err != nil {
					app.Logger.Warn("copying share link failed", slog.String("error", err.Error()))
				} else {
					copied = true
				}
			}

			out := struct {
				Slug   string `json:"slug"`
				URL    string `json:"url"`
				Copied bool   `json:"copied"`
			}{slug, link, copied}
			return app.render(cmd, out, func(w io.Writer) error {
				if copied {
					_, err := fmt.Fprintf(w, "%s (copied to clipboard)\n", link)
					return err
				}
				_, err := fmt.Fprintln(w, link)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&copyLink, "copy", false, "Copy the link to the clipboard")
	return cmd
}

func newPublicCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "public <slug>",
		Short: "Show someone's public portfolio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Public pages need no sign-in.
			view, err := app.client().GetPublicPortfolio(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.render(cmd, view, func(w io.Writer) error {
				return writePublic(w, view)
			})
		},
	}
}

func writePublic(w io.Writer, v *model.PublicPortfolio) error {
	p := v.Profile
	fmt.Fprintf(w, "%s\n", p.DisplayName)
	if p.Bio != "" {
		fmt.Fprintf(w, "  %s\n", p.Bio)
	}
	fmt.Fprintf(w, "  %d projects, %d XP\n\n", p.TotalProjects, p.TotalXP)
	return writeProjects(w, v.Projects)
}

func newLeaderboardCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the top owners by XP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := app.client().Leaderboard(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []model.LeaderboardEntry{}
			}
			return app.render(cmd, entries, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "#\tNAME\tXP\tLEVEL")
				for _, e := range entries {
					fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", e.Rank, e.DisplayName, e.TotalXP, e.Level)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of entries")
	return cmd
}

func newWatchCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print your stats every time they change, until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			tr, err := app.open(ctx)
			if err != nil {
				return err
			}
			defer tr.Close()

			show := func(s tracker.Snapshot) {
				if err := app.render(cmd, s.Derived, func(w io.Writer) error { return writeStatus(w, s) }); err != nil {
					app.Logger.Warn("writing snapshot failed", slog.String("error", err.Error()))
				}
			}

			updates := make(chan tracker.Snapshot, 1)
			cancel := tr.OnSnapshot(func(s tracker.Snapshot) {
				// Keep only the newest snapshot if the terminal is slow.
				select {
				case <-updates:
				default:
				}
				updates <- s
			})
			defer cancel()

			show(tr.Snapshot())
			for {
				select {
				case <-ctx.Done():
					return nil
				case s := <-updates:
					show(s)
				}
			}
		},
	}
}
