package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/progress-tracker/internal/model"
	"github.com/sakif/progress-tracker/internal/tracker"
)

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show level, XP, streak and today's progress",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			snap := tr.Snapshot()
			return app.render(cmd, snap, func(w io.Writer) error {
				return writeStatus(w, snap)
			})
		},
	}
}

func writeStatus(w io.Writer, s tracker.Snapshot) error {
	d := s.Derived
	name := s.Profile.DisplayName
	if name == "" {
		name = s.OwnerID
	}
	fmt.Fprintf(w, "%s\n", name)
	fmt.Fprintf(w, "  Level %d, %d XP (%.0f%% to next level)\n", d.Level, d.TotalXP, d.ProgressToNextLevel*100)
	fmt.Fprintf(w, "  Streak: %d days\n", d.StreakDays)
	if d.Rank > 0 {
		fmt.Fprintf(w, "  Leaderboard rank: #%d\n", d.Rank)
	}
	fmt.Fprintf(w, "  Projects: %d worth %d XP\n", d.Profile.TotalProjects, d.Profile.TotalXP)
	fmt.Fprintf(w, "  Goals today: %d done, %d pending\n", d.CompletedGoals, d.PendingGoals)
	fmt.Fprintf(w, "  Badges: %d of %d unlocked\n", d.UnlockedBadges, len(s.Badges))
	for _, c := range s.Challenges {
		fmt.Fprintf(w, "  Challenge %q: %d/%d (%s)\n", c.Title, c.Progress, c.TargetProgress, c.Status)
	}
	_, err := fmt.Fprintln(w)
	return err
}

func newGoalsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "goals",
		Aliases: []string{"goal"},
		Short:   "Today's daily goals",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List today's goals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			goals := tr.Snapshot().Goals
			if goals == nil {
				goals = []model.DailyGoal{}
			}
			return app.render(cmd, goals, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tXP\tSTATUS")
				for _, g := range goals {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", g.ID, g.Title, g.RewardXP, g.Status)
				}
				return tw.Flush()
			})
		},
	}

	complete := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a goal completed and collect its XP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			g, err := resolve("goal", args[0], tr.Snapshot().Goals)
			if err != nil {
				return err
			}
			res, op, err := tr.Coordinator().CompleteGoal(cmd.Context(), g.ID, g.RewardXP)
			if err != nil {
				return err
			}
			// Let the background stats writes settle before reading the level.
			tr.Coordinator().Wait()
			snap := tr.Snapshot()

			out := struct {
				Completion *model.GoalCompletion `json:"completion"`
				Awarded    bool                  `json:"awarded"`
				Level      int                   `json:"level"`
			}{res, !op.NoOp(), snap.Derived.Level}
			return app.render(cmd, out, func(w io.Writer) error {
				if op.NoOp() {
					_, err := fmt.Fprintf(w, "Goal %q was already completed\n", g.Title)
					return err
				}
				_, err := fmt.Fprintf(w, "Completed %q: +%d XP, now %d XP at level %d\n",
					g.Title, g.RewardXP, res.Stats.TotalXP, snap.Derived.Level)
				return err
			})
		},
	}

	cmd.AddCommand(list, complete)
	return cmd
}

func newBadgesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "badges",
		Short: "List the badge catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			badges := tr.Snapshot().Badges
			if badges == nil {
				badges = []model.Badge{}
			}
			return app.render(cmd, badges, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "BADGE\tTITLE\tUNLOCKED")
				for _, b := range badges {
					when := "-"
					if b.Unlocked && b.UnlockedAt != nil {
						when = b.UnlockedAt.Local().Format(time.DateOnly)
					}
					fmt.Fprintf(tw, "%s %s\t%s\t%s\n", b.Icon, b.BadgeID, b.Title, when)
				}
				return tw.Flush()
			})
		},
	}
}

func newChallengesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "challenges",
		Aliases: []string{"challenge"},
		Short:   "Weekly challenges",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List weekly challenges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			challenges := tr.Snapshot().Challenges
			if challenges == nil {
				challenges = []model.WeeklyChallenge{}
			}
			return app.render(cmd, challenges, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tTITLE\tPROGRESS\tDEADLINE\tSTATUS")
				for _, c := range challenges {
					fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\n",
						c.ID, c.Title, c.Progress, c.TargetProgress, c.Deadline.Local().Format(time.DateOnly), c.Status)
				}
				return tw.Flush()
			})
		},
	}

	var by int
	progress := &cobra.Command{
		Use:   "progress <id>",
		Short: "Record progress on a challenge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			c, err := resolve("challenge", args[0], tr.Snapshot().Challenges)
			if err != nil {
				return err
			}
			updated, _, err := tr.Coordinator().RecordChallengeProgress(cmd.Context(), c.ID, by)
			if err != nil {
				return err
			}
			return app.render(cmd, updated, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s: %d/%d (%s)\n", updated.Title, updated.Progress, updated.TargetProgress, updated.Status)
				return err
			})
		},
	}
	progress.Flags().IntVar(&by, "by", 1, "Progress to add")

	cmd.AddCommand(list, progress)
	return cmd
}
