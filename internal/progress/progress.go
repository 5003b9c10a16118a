// Package progress renders operation progress in the terminal: a counter bar
// for training jobs and a byte bar for upload batches.
package progress

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/embedlink/embedlink/internal/events"
	"github.com/embedlink/embedlink/internal/metrics"
)

// CLIProgress implements Reporter with a progress bar.
type CLIProgress struct {
	out       io.Writer
	showBytes bool
	bar       *progressbar.ProgressBar
}

// NewCLIProgress creates a reporter writing to out (stderr when nil).
// showBytes formats the counters as sizes instead of item counts.
func NewCLIProgress(out io.Writer, showBytes bool) *CLIProgress {
	if out == nil {
		out = os.Stderr
	}
	return &CLIProgress{out: out, showBytes: showBytes}
}

// Start initializes the bar with its total and description.
func (p *CLIProgress) Start(total int64, description string) {
	opts := []progressbar.Option{
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(p.out),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(p.out, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	}
	if p.showBytes {
		opts = append(opts, progressbar.OptionShowBytes(true))
	} else {
		opts = append(opts, progressbar.OptionSetItsString("img"), progressbar.OptionShowIts())
	}
	p.bar = progressbar.NewOptions64(total, opts...)
}

// Update moves the bar to current.
func (p *CLIProgress) Update(current int64) {
	if p.bar != nil {
		_ = p.bar.Set64(current)
	}
}

// Finish completes the bar.
func (p *CLIProgress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}

// Error prints err below the bar.
func (p *CLIProgress) Error(err error) {
	if err != nil {
		fmt.Fprintf(p.out, "\nError: %v\n", err)
	}
}

// SetDescription updates the text left of the bar.
func (p *CLIProgress) SetDescription(desc string) {
	if p.bar != nil {
		p.bar.Describe(desc)
	}
}

// NoOpProgress is a reporter that does nothing (for --quiet or non-TTY runs).
type NoOpProgress struct{}

// NewNoOpProgress creates a new no-op reporter.
func NewNoOpProgress() *NoOpProgress {
	return &NoOpProgress{}
}

func (p *NoOpProgress) Start(total int64, description string) {}
func (p *NoOpProgress) Update(current int64)                  {}
func (p *NoOpProgress) Finish()                               {}
func (p *NoOpProgress) Error(err error)                       {}
func (p *NoOpProgress) SetDescription(desc string)            {}

// ProgressReader wraps an io.Reader to report bytes read.
type ProgressReader struct {
	reader   io.Reader
	reporter Reporter
	current  int64
}

// NewProgressReader starts reporter at total and returns the wrapped reader.
func NewProgressReader(reader io.Reader, total int64, reporter Reporter) *ProgressReader {
	reporter.Start(total, "Uploading")
	return &ProgressReader{reader: reader, reporter: reporter}
}

// Read implements io.Reader with progress reporting.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	pr.current += int64(n)
	pr.reporter.Update(pr.current)
	if err == io.EOF {
		pr.reporter.Finish()
	}
	return n, err
}

// FollowJob drives r from the state and metrics events of view until the
// operation leaves the in-flight states or ctx ends. The bar is started the
// first time a positive total is reported.
func FollowJob(ctx context.Context, ch <-chan events.Event, view string, r Reporter) {
	started := false
	var total int
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *events.StateChangeEvent:
				if e.View != view {
					continue
				}
				if !started && e.Total > 0 {
					total = e.Total
					r.Start(int64(total), "Processing")
					started = true
				}
				if started {
					r.Update(int64(e.Processed))
				}
				switch e.NewState {
				case "queued":
					r.SetDescription("Queued")
				case "succeeded":
					r.Finish()
					return
				case "failed":
					r.Error(fmt.Errorf("%s", e.ErrorMessage))
					return
				case "idle":
					return
				}
			case *events.MetricsEvent:
				if e.View != view || !started {
					continue
				}
				r.SetDescription(describeMetrics(e))
			}
		}
	}
}

func describeMetrics(e *events.MetricsEvent) string {
	s := metrics.Snapshot{Throughput: e.Throughput, ETA: e.ETA, ETAKnown: e.ETAKnown}
	return fmt.Sprintf("%s | %s | ETA %s",
		metrics.FormatDuration(e.Elapsed),
		s.FormatThroughput("img"),
		s.FormatETA("--:--:--"))
}
