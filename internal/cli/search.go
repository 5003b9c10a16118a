package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/embedlink/embedlink/internal/intake"
	"github.com/embedlink/embedlink/internal/operation"
)

func newSearchCmd() *cobra.Command {
	var (
		asJSON bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "search <image>",
		Short: "Find images similar to a query image",
		Long: `Send a query image to the service and list the matching images,
best match first. Scores are between 0 and 1.

Allowed formats: ` + intake.AllowedList(),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := intake.FromPath(args[0])
			if err != nil {
				return err
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			s := operation.NewSearch(a.client, a.previews, a.options())
			defer s.Close()

			if err := s.Select(f); err != nil {
				printNotification(cmd.ErrOrStderr(), s.Controller)
				return err
			}
			if err := s.Submit(); err != nil {
				printNotification(cmd.ErrOrStderr(), s.Controller)
				return err
			}

			snap, err := await(GetContext(), s.Controller)
			if err != nil {
				printNotification(cmd.ErrOrStderr(), s.Controller)
				return fmt.Errorf("search failed: %w", err)
			}

			result, _ := snap.Result()
			matches := result.Matches
			if limit > 0 && len(matches) > limit {
				matches = matches[:limit]
			}

			out := cmd.OutOrStdout()
			if asJSON {
				type row struct {
					operation.Ranked
					URL string `json:"url"`
				}
				rows := make([]row, len(matches))
				for i, m := range matches {
					rows[i] = row{Ranked: m, URL: a.client.ImageURL(m.Locator)}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			printNotification(cmd.ErrOrStderr(), s.Controller)
			if len(matches) == 0 {
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tSCORE\tIMAGE\tURL")
			for i, m := range matches {
				fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", i+1, m.Score, m.Locator, a.client.ImageURL(m.Locator))
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print matches as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most n matches (0 = all)")

	return cmd
}
