package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/LeadRouter/internal/broker"
)

func previewCmd() *cobra.Command {
	var tenant string
	var limit int
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Rank agents for unassigned leads without writing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			t, err := tenantOrDefault(cfg, tenant)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := buildApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.broker.RunPreview(ctx, t, limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rows)
			}
			renderPreview(rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant to preview")
	cmd.Flags().IntVar(&limit, "limit", 0, "max leads (0 = configured default)")
	return cmd
}

func commitCmd() *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Create or rescore proposals for unassigned leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			t, err := tenantOrDefault(cfg, tenant)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := buildApp(ctx, cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.broker.RunCommit(ctx, t)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(report)
			}
			fmt.Printf("tenant %s: %d created, %d rescored, %d skipped, %d closed, %d errors\n",
				report.Tenant, report.Created, report.Rescored, report.Skipped, report.Closed, len(report.Errors))
			if len(report.Errors) > 0 {
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Lead", "Kind", "Error"})
				for _, e := range report.Errors {
					tw.AppendRow(table.Row{e.LeadID, e.Kind.String(), e.Error})
				}
				tw.Render()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant to commit")
	return cmd
}

func renderPreview(rows []broker.PreviewRow) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Lead", "Industry", "Winner", "Score", "Summary", "Excluded"})
	for _, r := range rows {
		winner, score := "-", "-"
		if r.Winner != nil {
			winner = r.Winner.AgentName
			if winner == "" {
				winner = r.Winner.AgentID
			}
			score = fmt.Sprintf("%.1f", r.Winner.Score)
		}
		summary := r.Summary
		if r.NoEligible {
			summary = "no eligible agents"
		}
		excluded := make([]string, 0, len(r.Excluded))
		for _, ex := range r.Excluded {
			excluded = append(excluded, ex.AgentID)
		}
		tw.AppendRow(table.Row{r.Lead.ID, r.Lead.Industry, winner, score, summary, strings.Join(excluded, ",")})
	}
	tw.AppendFooter(table.Row{"", "", "", "", "Leads", len(rows)})
	tw.Render()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
