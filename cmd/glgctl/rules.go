package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"glgapp.org/internal/config"
	"glgapp.org/internal/rules"
)

type ruleView struct {
	Endpoint      string   `json:"endpoint"`
	Required      []string `json:"required"`
	Optional      []string `json:"optional"`
	Ownership     bool     `json:"ownership"`
	TrustBoundary string   `json:"trust_boundary,omitempty"`
}

func rulesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Print the endpoint rule table",
		RunE: func(cmd *cobra.Command, args []string) error {
			views := make([]ruleView, 0, len(rules.Kinds()))
			for _, r := range rules.Table() {
				views = append(views, ruleView{
					Endpoint:      r.Kind.String(),
					Required:      r.Required,
					Optional:      r.Optional,
					Ownership:     r.RequiresOwnership,
					TrustBoundary: r.TrustBoundary,
				})
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(views)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ENDPOINT\tREQUIRED\tOPTIONAL\tOWNERSHIP\tNOTE")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n",
					v.Endpoint, strings.Join(v.Required, ","), dash(strings.Join(v.Optional, ",")), v.Ownership, v.TrustBoundary)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Load and validate configuration from the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "http:      %s\n", cfg.HTTPAddr)
			fmt.Fprintf(out, "grpc:      %s\n", cfg.GRPCAddr)
			fmt.Fprintf(out, "schema:    %s\n", dash(cfg.WarehouseSchema))
			fmt.Fprintf(out, "redis:     %s\n", dash(cfg.Redis.Addr))
			for _, b := range []struct {
				name string
				b    config.Budget
			}{
				{"contact", cfg.Retry.Contact},
				{"read", cfg.Retry.Read},
				{"offer_plan", cfg.Retry.OfferPlan},
				{"offer_responses", cfg.Retry.OfferResponses},
			} {
				fmt.Fprintf(out, "retry.%-16s %d x %s\n", b.name+":", b.b.Attempts, b.b.Delay)
			}
			return nil
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
