package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/embedlink/embedlink/internal/notify"
	"github.com/embedlink/embedlink/internal/operation"
)

// await blocks until c settles. Cancelling ctx resets the operation so no
// late response is applied. A failed operation is returned as an error.
func await[R any](ctx context.Context, c *operation.Controller[R]) (operation.Snapshot[R], error) {
	snap, err := c.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.Reset()
		}
		return snap, err
	}
	if snap.State() == operation.Failed {
		d, _ := snap.Error()
		if d.Err != nil {
			return snap, d.Err
		}
		return snap, errors.New(d.Message)
	}
	return snap, nil
}

// printNotification writes the view's live notification, if any.
func printNotification[R any](w io.Writer, c *operation.Controller[R]) {
	n, ok := c.Notification()
	if !ok {
		return
	}
	switch n.Severity {
	case notify.SeveritySuccess:
		fmt.Fprintf(w, "✓ %s\n", n.Text)
	case notify.SeverityWarning:
		fmt.Fprintf(w, "! %s\n", n.Text)
	default:
		fmt.Fprintf(w, "✗ %s\n", n.Text)
	}
}

// stderrFile returns the command's error stream when it is a file.
func stderrFile(cmd *cobra.Command) *os.File {
	f, _ := cmd.ErrOrStderr().(*os.File)
	return f
}
