package progress

import "io"

// Reporter is a counter-based progress display: a training job's processed
// images, or bytes of an upload body.
type Reporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	Error(err error)
	SetDescription(desc string)
}

// BatchUI renders one batch upload request.
type BatchUI interface {
	// AddFile lists a file of the batch above the bar.
	AddFile(path string, size int64)

	// Wrap returns a reader that advances the bar as the body is sent.
	Wrap(r io.Reader, size int64) io.Reader

	// Complete marks the batch as finished and prints a summary.
	Complete(count int, err error)

	// Wait blocks until the bar has rendered its final state.
	Wait()

	// Writer returns an io.Writer that safely outputs above the bar.
	Writer() io.Writer

	// IsTerminal returns true if output is to a terminal (bars are active).
	IsTerminal() bool
}
