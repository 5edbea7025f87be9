package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskmesh/internal/analytics"
	"taskmesh/internal/domain"
	"taskmesh/internal/engine"
	"taskmesh/internal/matcher"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectStatusCmd())
	prj.AddCommand(projectAnalyticsCmd())
	prj.AddCommand(projectSetStatusCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectUseCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.OwnerTeam == "" {
				opts.OwnerTeam = actingTeam()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "critical, high, medium or low (default medium)")
	cmd.Flags().StringVar(&opts.OwnerTeam, "owner", "", "owning team (defaults to --team)")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.TargetEndDate, "target", "", "target end date YYYY-MM-DD")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printProjects(items)
			})
		},
	}
}

func projectStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show a project with its tasks and summary",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), firstArg(args), func(ctx context.Context, e engine.Engine, id string) error {
				st, err := e.GetProjectStatus(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				s := st.Summary
				fmt.Printf("%s  %s  [%s, %s]  %d%% complete\n", st.Project.ID, st.Project.Name, st.Project.Status, st.Project.Priority, st.Project.CompletionPercentage)
				fmt.Printf("tasks %d  completed %d  blocked %d  unassigned %d  dependencies %d\n",
					s.TotalTasks, s.CompletedTasks, s.BlockedTasks, s.UnassignedTasks, s.DependencyCount)
				return printTasks(st.Tasks)
			})
		},
	}
}

func projectAnalyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics [id]",
		Short: "Show velocity, remaining effort and health",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), firstArg(args), func(ctx context.Context, e engine.Engine, id string) error {
				rep, err := e.GetProjectAnalytics(ctx, id)
				if err != nil {
					return err
				}
				return printAnalytics(rep)
			})
		},
	}
}

func projectSetStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <status> [id]",
		Short: "Hold, resume or cancel a project",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), firstArg(args[1:]), func(ctx context.Context, e engine.Engine, id string) error {
				p, err := e.SetProjectStatus(ctx, engine.SetProjectStatusOptions{ProjectID: id, Status: args[0]})
				if err != nil {
					return err
				}
				return printProjects([]domain.Project{p})
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project with its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProject(ctx, args[0])
			})
		},
	}
}

func projectUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the default project for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectID := strings.TrimSpace(args[0])
			if projectID == "" {
				return fmt.Errorf("project id is required")
			}
			if err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, err := e.GetProjectStatus(ctx, projectID)
				return err
			}); err != nil {
				return err
			}
			path := filepath.Join(viper.GetString("workspace"), ".env")
			env, err := godotenv.Read(path)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if env == nil {
				env = map[string]string{}
			}
			env["TASKMESH_PROJECT"] = projectID
			if err := godotenv.Write(env, path); err != nil {
				return err
			}
			fmt.Printf("Set TASKMESH_PROJECT=%s in %s\n", projectID, path)
			return nil
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskDependCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskReleaseCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskBlockCmd())
	task.AddCommand(taskUpdatesCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var skills string
	var estimate float64
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task in the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.RequiredSkills = splitList(skills)
			if cmd.Flags().Changed("estimate") {
				opts.EstimatedHours = &estimate
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			opts.ActingTeam = actingTeam()
			return withProject(cmd.Context(), "", func(ctx context.Context, e engine.Engine, id string) error {
				opts.ProjectID = id
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Type, "type", "", "free-form task type")
	cmd.Flags().StringVar(&opts.Complexity, "complexity", "", "trivial, easy, medium, hard or expert")
	cmd.Flags().StringVar(&skills, "skills", "", "comma-separated required skills")
	cmd.Flags().Float64Var(&estimate, "estimate", 0, "estimated hours")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date YYYY-MM-DD")
	cmd.Flags().IntVar(&priority, "priority", 0, "task priority from 1, lower runs first")
	cmd.Flags().StringVar(&opts.AssignedTeam, "assign", "", "assign to team on creation")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskDependCmd() *cobra.Command {
	var kind string
	var remove bool
	cmd := &cobra.Command{
		Use:   "depend <task> <depends-on>",
		Short: "Make a task depend on another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if remove {
					return e.RemoveDependency(ctx, args[0], args[1])
				}
				d, err := e.AddDependency(ctx, engine.DependencyOptions{TaskID: args[0], DependsOnTaskID: args[1], Kind: kind})
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "finish_to_start (default), start_to_start, finish_to_finish or start_to_finish")
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the edge instead")
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "assign <task>",
		Short: "Claim a task for a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			team := to
			if team == "" {
				team = actingTeam()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.AssignTask(ctx, engine.AssignOptions{TaskID: args[0], TeamID: team, ActingTeam: actingTeam()})
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "team to assign (defaults to --team)")
	return cmd
}

func taskReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <task>",
		Short: "Hand a ready task back to the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ReleaseTask(ctx, engine.ReleaseOptions{TaskID: args[0], TeamID: actingTeam()})
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
}

func taskStatusCmd() *cobra.Command {
	var opts engine.StatusUpdateOptions
	var progress int
	cmd := &cobra.Command{
		Use:   "status <task> <status>",
		Short: "Move a task; repeating the current status logs progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TaskID = args[0]
			opts.Status = args[1]
			opts.ActingTeam = actingTeam()
			if cmd.Flags().Changed("progress") {
				opts.Progress = &progress
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTaskStatus(ctx, opts)
				if errors.Is(err, domain.ErrDependencyNotSatisfied) && t.ID != "" {
					_ = printTasks([]domain.Task{t})
				}
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	cmd.Flags().IntVar(&progress, "progress", 0, "progress percentage")
	cmd.Flags().Float64Var(&opts.HoursWorked, "hours", 0, "hours worked since the last update")
	cmd.Flags().StringVar(&opts.Note, "note", "", "note for the audit log")
	cmd.Flags().StringVar(&opts.Blocker, "blocker", "", "blocker description when moving to blocked")
	cmd.Flags().StringVar(&opts.NeedsHelpFrom, "help-from", "", "team whose help is needed")
	return cmd
}

func taskBlockCmd() *cobra.Command {
	var opts engine.BlockerOptions
	cmd := &cobra.Command{
		Use:   "block <task>",
		Short: "Report a blocker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TaskID = args[0]
			opts.ActingTeam = actingTeam()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ReportBlocker(ctx, opts)
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Description, "description", "", "what is blocking the task")
	cmd.Flags().StringVar(&opts.NeedsHelpFrom, "help-from", "", "team whose help is needed")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func taskUpdatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "updates <task>",
		Short: "Show the audit log of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTaskUpdates(ctx, args[0])
				if err != nil {
					return err
				}
				return printUpdates(items)
			})
		},
	}
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task>",
		Short: "Delete a task and its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTask(ctx, args[0])
			})
		},
	}
}

func workCmd() *cobra.Command {
	work := &cobra.Command{Use: "work", Short: "Find work for a team"}
	var skills string
	var capacity float64
	find := &cobra.Command{
		Use:   "find",
		Short: "Rank claimable tasks for --team",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.WorkRequest{TeamID: actingTeam(), Skills: splitList(skills)}
			if cmd.Flags().Changed("capacity") {
				req.CapacityHours = &capacity
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				matches, err := e.FindAvailableWork(ctx, req)
				if err != nil {
					return err
				}
				return printMatches(matches)
			})
		},
	}
	find.Flags().StringVar(&skills, "skills", "", "comma-separated skills (defaults to the team registry)")
	find.Flags().Float64Var(&capacity, "capacity", 0, "available hours (defaults to the team registry)")
	work.AddCommand(find)
	return work
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Team views"}
	var status string
	var all bool
	tasks := &cobra.Command{
		Use:   "tasks [team]",
		Short: "List the tasks a team holds",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := firstArg(args)
			if id == "" {
				id = actingTeam()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTeamTasks(ctx, engine.TeamTaskFilters{TeamID: id, Status: status, IncludeCompleted: all})
				if err != nil {
					return err
				}
				return printTasks(items)
			})
		},
	}
	tasks.Flags().StringVar(&status, "status", "", "status filter")
	tasks.Flags().BoolVar(&all, "all", false, "include completed and cancelled tasks")
	team.AddCommand(tasks)
	return team
}

// --- output ---

func printProjects(items []domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Status", "Priority", "Owner", "Done %", "Target"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.Priority, p.OwnerTeam, p.CompletionPercentage, deref(p.TargetEndDate)})
	}
	tw.Render()
	return nil
}

func printTasks(items []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Team", "Progress", "Priority", "Due", "Blocker"})
	for _, t := range items {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, deref(t.AssignedTeam), fmt.Sprintf("%d%%", t.Progress), t.Priority, deref(t.DueDate), deref(t.BlockerDescription)})
	}
	tw.Render()
	return nil
}

func printUpdates(items []domain.TaskUpdate) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"At", "Team", "Type", "From", "To", "Hours", "Note"})
	for _, u := range items {
		tw.AppendRow(table.Row{u.CreatedAt, u.TeamID, u.UpdateType, deref(u.OldValue), deref(u.NewValue), u.HoursLogged, u.Note})
	}
	tw.Render()
	return nil
}

func printMatches(items []matcher.Match) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Urgency", "Due in", "Project priority", "Skill match", "Estimate"})
	for _, m := range items {
		due := ""
		if m.DaysUntilDue != nil {
			due = fmt.Sprintf("%dd", *m.DaysUntilDue)
		}
		estimate := ""
		if m.Task.EstimatedHours != nil {
			estimate = fmt.Sprintf("%.1fh", *m.Task.EstimatedHours)
		}
		tw.AppendRow(table.Row{m.Task.ID, m.Task.Title, m.Urgency, due, m.ProjectPriority, fmt.Sprintf("%.0f%%", m.SkillMatch*100), estimate})
	}
	tw.Render()
	return nil
}

func printAnalytics(rep analytics.Report) error {
	if viper.GetBool("json") {
		return printJSON(rep)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"Progress", fmt.Sprintf("%d%%", rep.Progress)},
		{"Tasks", fmt.Sprintf("%d (%d completed, %d blocked)", rep.TotalTasks, rep.CompletedTasks, rep.BlockedTasks)},
		{"Velocity", fmt.Sprintf("%.3f over %d tasks", rep.VelocityRatio, rep.VelocitySamples)},
		{"Remaining hours", rep.EstimatedRemainingHours},
		{"Logged hours", rep.LoggedHours},
		{"Projected completion", deref(rep.ProjectedCompletion)},
		{"Health", rep.Health},
	})
	if rep.DaysRemaining != nil {
		tw.AppendRow(table.Row{"Days to target", *rep.DaysRemaining})
	}
	tw.Render()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func splitList(in string) []string {
	var out []string
	for _, part := range strings.Split(in, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
