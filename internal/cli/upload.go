package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/embedlink/embedlink/internal/intake"
	"github.com/embedlink/embedlink/internal/operation"
	"github.com/embedlink/embedlink/internal/progress"
)

func newUploadCmd() *cobra.Command {
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "upload <image>...",
		Short: "Upload a batch of images",
		Long: `Upload images to the service in a single request.

Files with a disallowed extension are skipped with a warning.
Allowed formats: ` + intake.AllowedList(),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := GetLogger()

			files := make([]intake.File, 0, len(args))
			for _, path := range args {
				f, err := intake.FromPath(path)
				if err != nil {
					return err
				}
				files = append(files, f)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			up := operation.NewUpload(a.client, a.previews, a.options())
			defer up.Close()

			added, rejected, err := up.AddFiles(files)
			if err != nil {
				return err
			}
			for _, f := range rejected {
				log.Warn().Str("file", f.Name).Msg("Skipping file with disallowed extension")
			}
			if len(added) == 0 {
				printNotification(cmd.ErrOrStderr(), up.Controller)
				return fmt.Errorf("no uploadable files")
			}

			var ui progress.BatchUI
			if !noProgress {
				ui = progress.NewUploadUI(len(added))
				log.SetOutput(ui.Writer())
				defer log.SetOutput(cmd.ErrOrStderr())
				for _, it := range added {
					path := it.Name
					if it.File.Path != "" {
						path = it.File.Path
					}
					ui.AddFile(path, it.Size)
				}
				up.SetBodyWrapper(ui.Wrap)
			}

			if err := up.Submit(); err != nil {
				printNotification(cmd.ErrOrStderr(), up.Controller)
				return err
			}
			_, err = await(GetContext(), up.Controller)
			if ui != nil {
				ui.Complete(len(added), err)
				ui.Wait()
			}
			if err != nil {
				printNotification(cmd.ErrOrStderr(), up.Controller)
				return fmt.Errorf("upload failed: %w", err)
			}
			if ui == nil {
				printNotification(cmd.OutOrStdout(), up.Controller)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress display")

	return cmd
}
