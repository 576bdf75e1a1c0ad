package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskdesk/internal/app"
)

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Audit log (admin)"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *app.Session) error {
				callCtx, cancel := context.WithTimeout(ctx, s.Client.Timeout)
				defer cancel()
				items, err := s.Client.Events(callCtx, entityKind, entityID, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Type", "Entity", "Actor", "Payload"})
				for _, e := range items {
					payload, _ := json.Marshal(e.Payload)
					tw.AppendRow(table.Row{e.TS, e.Type, e.EntityKind + " " + e.EntityID, e.ActorID, string(payload)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "task or account")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}
