package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/app"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine/policy"
)

func taskCmd() *cobra.Command {
	t := &cobra.Command{Use: "task", Short: "Manage tasks"}
	t.AddCommand(taskListCmd())
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskEditCmd())
	t.AddCommand(taskDeleteCmd())
	return t
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks visible to you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Reload(ctx, domain.KindTask); err != nil {
					return err
				}
				items := s.Tasks.List()
				if viper.GetBool("json") {
					return printJSON(items)
				}
				actor := s.Actor()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Owner", "Department", "Progress", "Hours/wk", "Load %", "Can edit", "Can delete"})
				for _, r := range items {
					t := r.(domain.Task)
					tw.AppendRow(table.Row{
						t.ID, t.Title, t.OwnerName, t.Department,
						fmt.Sprintf("%d%%", t.Progress), t.HoursPerWeek, t.LoadPerMonth,
						yesNo(policy.CanMutate(actor, t, policy.ActionEdit)),
						yesNo(policy.CanMutate(actor, t, policy.ActionDelete)),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
}

type taskFlags struct {
	title, description string
	progress, load     int
	hours              float64
}

func (f *taskFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "title")
	cmd.Flags().StringVar(&f.description, "description", "", "description")
	cmd.Flags().IntVar(&f.progress, "progress", 0, "progress 0-100")
	cmd.Flags().Float64Var(&f.hours, "hours", 0, "hours per week")
	cmd.Flags().IntVar(&f.load, "load", 0, "load per month 0-100")
}

// fields returns only the flags the caller set.
func (f *taskFlags) fields(cmd *cobra.Command) domain.Fields {
	out := domain.Fields{}
	set := func(flag, field string, v any) {
		if cmd.Flags().Changed(flag) {
			out[field] = v
		}
	}
	set("title", domain.FieldTitle, f.title)
	set("description", domain.FieldDescription, f.description)
	set("progress", domain.FieldProgress, f.progress)
	set("hours", domain.FieldHoursPerWeek, f.hours)
	set("load", domain.FieldLoadPerMonth, f.load)
	return out
}

func taskCreateCmd() *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task owned by you",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := f.fields(cmd)
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				res, err := s.Tasks.RequestCreate(ctx, fields, s.Actor())
				if err != nil {
					return err
				}
				t := res.(domain.Task)
				return printJSONOrText(t, fmt.Sprintf("created task %s", t.ID))
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func taskEditCmd() *cobra.Command {
	var f taskFlags
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			fields := f.fields(cmd)
			if len(fields) == 0 {
				return fmt.Errorf("nothing to change; pass at least one field flag")
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Reload(ctx, domain.KindTask); err != nil {
					return err
				}
				if err := s.Tasks.Begin(id); err != nil {
					return err
				}
				for _, name := range fields.Names() {
					if err := s.Tasks.Stage(id, name, fields[name]); err != nil {
						s.Tasks.Cancel(id)
						return err
					}
				}
				res, err := s.Tasks.RequestSave(ctx, id, s.Actor())
				if err != nil {
					return err
				}
				t := res.(domain.Task)
				return printJSONOrText(t, fmt.Sprintf("saved task %s (progress %d%%)", t.ID, t.Progress))
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				if err := s.Reload(ctx, domain.KindTask); err != nil {
					return err
				}
				if err := s.Tasks.RequestDelete(ctx, args[0], s.Actor()); err != nil {
					return err
				}
				return printJSONOrText(map[string]string{"deleted": args[0]}, "deleted task "+args[0])
			})
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
