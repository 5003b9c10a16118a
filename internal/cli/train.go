package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/embedlink/embedlink/internal/events"
	"github.com/embedlink/embedlink/internal/operation"
	"github.com/embedlink/embedlink/internal/progress"
)

func newTrainCmd() *cobra.Command {
	var (
		noProgress bool
		detach     bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Start a training job and follow it to completion",
		Long: `Start a training job on the service and poll its status until it
finishes. Progress, throughput and ETA are shown while the job runs.

Use --detach to print the job ID and return immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			tr := operation.NewTraining(a.client, a.options())
			defer tr.Close()

			var reporter progress.Reporter = progress.NewCLIProgress(cmd.ErrOrStderr(), false)
			if noProgress || !progress.IsTerminal(stderrFile(cmd)) {
				reporter = progress.NewNoOpProgress()
			}

			ctx := GetContext()
			stopFollow := followTraining(ctx, a.bus, tr, reporter)
			defer stopFollow()

			if err := tr.Submit(); err != nil {
				printNotification(cmd.ErrOrStderr(), tr.Controller)
				return err
			}

			if detach {
				snap, err := waitStarted(ctx, tr)
				if err != nil {
					return err
				}
				id, _ := snap.CorrelationID()
				fmt.Fprintf(cmd.OutOrStdout(), "Training job started: %s\n", id)
				return nil
			}

			snap, err := await(ctx, tr.Controller)
			stopFollow()

			if err != nil {
				printNotification(cmd.ErrOrStderr(), tr.Controller)
				return fmt.Errorf("training failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), operation.TrainingStatusText(snap))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	cmd.Flags().BoolVar(&detach, "detach", false, "Return once the job is accepted")

	return cmd
}

// followTraining renders the job's events on reporter until the returned
// stop func is called. Stop waits for the renderer to exit and drops the
// subscription; calling it again is a no-op.
func followTraining(ctx context.Context, bus *events.EventBus, tr *operation.Training, reporter progress.Reporter) func() {
	followCtx, cancel := context.WithCancel(ctx)
	ch := bus.SubscribeAll()
	done := make(chan struct{})
	go func() {
		defer close(done)
		progress.FollowJob(followCtx, ch, tr.View(), reporter)
	}()
	return sync.OnceFunc(func() {
		cancel()
		<-done
		bus.UnsubscribeAll(ch)
	})
}

// waitStarted waits until the job has an identifier or the operation settles.
func waitStarted(ctx context.Context, tr *operation.Training) (operation.Snapshot[operation.TrainingResult], error) {
	for {
		snap := tr.Snapshot()
		if _, ok := snap.CorrelationID(); ok || !snap.State().InFlight() {
			if snap.State() == operation.Failed {
				d, _ := snap.Error()
				return snap, fmt.Errorf("training failed: %s", d.Message)
			}
			return snap, nil
		}
		select {
		case <-ctx.Done():
			tr.Reset()
			return snap, ctx.Err()
		case <-tr.Changed():
		}
	}
}
