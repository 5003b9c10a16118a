package cli

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"
)

func newImageCmd() *cobra.Command {
	var (
		output  string
		urlOnly bool
	)

	cmd := &cobra.Command{
		Use:   "image <path>",
		Short: "Download a result image",
		Long: `Download an image referenced by a search result.

The path is the locator printed by 'embedlink search'. Use --url to print
the image URL instead of downloading it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if urlOnly {
				fmt.Fprintln(cmd.OutOrStdout(), a.client.ImageURL(args[0]))
				return nil
			}

			if output == "" {
				output = path.Base(args[0])
			}
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}

			n, contentType, err := a.client.FetchImage(GetContext(), args[0], f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(output)
				return fmt.Errorf("failed to download image: %w", err)
			}

			a.logger.Debug().Str("content_type", contentType).Int64("bytes", n).Msg("Image downloaded")
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s (%d bytes)\n", output, n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: image file name)")
	cmd.Flags().BoolVar(&urlOnly, "url", false, "Print the image URL only")

	return cmd
}
