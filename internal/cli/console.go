package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/embedlink/embedlink/internal/console"
	"github.com/embedlink/embedlink/internal/operation"
)

func newConsoleCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Serve the local browser console",
		Long: `Serve JSON endpoints for the training, search and upload views and
a WebSocket stream of their events at /ws.

Listens on console_addr from the configuration unless --addr is given.
Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			opts := a.options()
			training := operation.NewTraining(a.client, opts)
			search := operation.NewSearch(a.client, a.previews, opts)
			upload := operation.NewUpload(a.client, a.previews, opts)
			defer func() {
				training.Close()
				search.Close()
				upload.Close()
				if live := a.previews.Live(); live > 0 {
					a.logger.Warn().Int("live", live).Msg("Previews not released on shutdown")
				}
			}()

			if addr == "" {
				addr = a.cfg.ConsoleAddr
			}

			srv := console.NewServer(console.Deps{
				Images:   a.client,
				Previews: a.previews,
				Training: training,
				Search:   search,
				Upload:   upload,
				Bus:      a.bus,
				Logger:   a.logger,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Console: http://%s/api/health\n", addr)
			return srv.Run(GetContext(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (host:port)")

	return cmd
}
