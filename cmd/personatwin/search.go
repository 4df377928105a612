package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/personatwin/internal/search"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the knowledge base directly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if top, _ := cmd.Flags().GetInt("top"); top > 0 {
				cfg.Search.Top = top
			}
			client := search.NewClient(cfg.Search)
			if !client.Configured() {
				return search.ErrNotConfigured
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Search.Timeout*time.Duration(cfg.Search.MaxRetries+1))
			defer cancel()
			out, err := client.Search(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().Int("top", 0, "number of documents to return (overrides AZURE_SEARCH_TOP)")
	return cmd
}
