package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sakif/progress-tracker/internal/model"
)

func newProjectsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "projects",
		Aliases: []string{"project"},
		Short:   "Manage portfolio projects",
	}
	cmd.AddCommand(
		newProjectListCmd(app),
		newProjectAddCmd(app),
		newProjectUpdateCmd(app),
		newProjectDeleteCmd(app),
	)
	return cmd
}

func newProjectListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			projects := tr.Snapshot().Projects
			if projects == nil {
				projects = []model.Project{}
			}
			return app.render(cmd, projects, func(w io.Writer) error {
				return writeProjects(w, projects)
			})
		},
	}
}

// projectFlags are the editable project fields shared by add and update.
type projectFlags struct {
	title, description, category, role, imageURL, status string
	github, site, doc                                    string
	technologies, achievements                           []string
	xp                                                   int
}

func (f *projectFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.title, "title", "", "Project title")
	fs.StringVar(&f.description, "description", "", "Description")
	fs.StringVar(&f.category, "category", "", "Category, e.g. web or cli")
	fs.StringVar(&f.role, "role", "", "Your role on the project")
	fs.StringVar(&f.imageURL, "image", "", "Cover image URL")
	fs.StringVar(&f.status, "status", "", "in_progress, completed or upcoming")
	fs.StringVar(&f.github, "github", "", "Repository link")
	fs.StringVar(&f.site, "site", "", "Live site link")
	fs.StringVar(&f.doc, "doc", "", "Documentation link")
	fs.StringSliceVar(&f.technologies, "tech", nil, "Technologies (repeat or comma-separate)")
	fs.StringSliceVar(&f.achievements, "achievement", nil, "Achievements (repeatable)")
	fs.IntVar(&f.xp, "xp", 0, "XP the project is worth")
}

func newProjectAddCmd(app *App) *cobra.Command {
	var f projectFlags

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			created, _, err := tr.Coordinator().AddProject(cmd.Context(), model.Project{
				Title:        f.title,
				Description:  f.description,
				Category:     f.category,
				Role:         f.role,
				ImageURL:     f.imageURL,
				Status:       model.ProjectStatus(f.status),
				Technologies: f.technologies,
				Achievements: f.achievements,
				Links:        model.ProjectLinks{GitHub: f.github, Site: f.site, Doc: f.doc},
				XPValue:      f.xp,
			})
			if err != nil {
				return err
			}
			return app.render(cmd, created, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Created project %s [%s] worth %d XP\n", created.Title, created.ID, created.XPValue)
				return err
			})
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newProjectUpdateCmd(app *App) *cobra.Command {
	var f projectFlags

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the given fields of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			p, err := resolve("project", args[0], tr.Snapshot().Projects)
			if err != nil {
				return err
			}
			updated, _, err := tr.Coordinator().UpdateProject(cmd.Context(), p.ID, f.patch(cmd, p.Links))
			if err != nil {
				return err
			}
			return app.render(cmd, updated, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Updated project %s [%s]\n", updated.Title, updated.ID)
				return err
			})
		},
	}
	f.register(cmd)
	return cmd
}

// patch sets only the fields whose flags were given. Link flags are merged
// onto the current links.
func (f *projectFlags) patch(cmd *cobra.Command, links model.ProjectLinks) model.ProjectPatch {
	changed := cmd.Flags().Changed
	var pp model.ProjectPatch
	if changed("title") {
		pp.Title = &f.title
	}
	if changed("description") {
		pp.Description = &f.description
	}
	if changed("category") {
		pp.Category = &f.category
	}
	if changed("role") {
		pp.Role = &f.role
	}
	if changed("image") {
		pp.ImageURL = &f.imageURL
	}
	if changed("status") {
		s := model.ProjectStatus(f.status)
		pp.Status = &s
	}
	if changed("tech") {
		pp.Technologies = &f.technologies
	}
	if changed("achievement") {
		pp.Achievements = &f.achievements
	}
	if changed("xp") {
		pp.XPValue = &f.xp
	}
	if changed("github") || changed("site") || changed("doc") {
		if changed("github") {
			links.GitHub = f.github
		}
		if changed("site") {
			links.Site = f.site
		}
		if changed("doc") {
			links.Doc = f.doc
		}
		pp.Links = &links
	}
	return pp
}

func newProjectDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a project",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			defer tr.Close()

			p, err := resolve("project", args[0], tr.Snapshot().Projects)
			if err != nil {
				return err
			}
			if _, err := tr.Coordinator().DeleteProject(cmd.Context(), p.ID); err != nil {
				return err
			}
			return app.render(cmd, map[string]string{"deleted": p.ID}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "Deleted project %s [%s]\n", p.Title, p.ID)
				return err
			})
		},
	}
}

func writeProjects(w io.Writer, projects []model.Project) error {
	if len(projects) == 0 {
		_, err := fmt.Fprintln(w, "No projects yet. Add one with: tracker projects add --title ...")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tXP")
	for _, p := range projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", p.ID, p.Title, p.Status, p.XPValue)
	}
	return tw.Flush()
}
