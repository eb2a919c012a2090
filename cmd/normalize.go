package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/reldate"
)

// newNormalizeCmd creates the 'normalize' subcommand, a quick way to see how
// a posted-on label resolves.
func newNormalizeCmd() *cobra.Command {
	var now string
	cmd := &cobra.Command{
		Use:         "normalize <label>",
		Short:       "Resolves a relative date label such as \"3d ago\"",
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{"standalone": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := time.Now()
			if now != "" {
				t, err := time.Parse(reldate.Layout, now)
				if err != nil {
					return fmt.Errorf("--now must be YYYY-MM-DD: %w", err)
				}
				ref = t
			}
			label := strings.Join(args, " ")
			fmt.Fprintln(cmd.OutOrStdout(), reldate.Format(reldate.Normalize(label, ref)))
			return nil
		},
	}
	cmd.Flags().StringVar(&now, "now", "", "reference date as YYYY-MM-DD (default today)")
	return cmd
}
