package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UploadUI renders one batch upload: the files of the batch listed above a
// single byte bar for the multipart request body.
type UploadUI struct {
	progress   *mpb.Progress
	out        io.Writer
	isTerminal bool
	totalFiles int

	mu        sync.Mutex
	bar       *mpb.Bar
	listed    int
	startTime time.Time
	size      int64
}

// NewUploadUI creates an upload UI on stderr for a batch of totalFiles.
func NewUploadUI(totalFiles int) *UploadUI {
	isTerminal := IsTerminal(os.Stderr)
	if isTerminal {
		EnableANSI(os.Stderr)
	}
	return newUploadUI(os.Stderr, isTerminal, totalFiles)
}

func newUploadUI(out io.Writer, isTerminal bool, totalFiles int) *UploadUI {
	var p *mpb.Progress
	if isTerminal {
		p = mpb.New(
			mpb.WithOutput(out),
			mpb.WithRefreshRate(300*time.Millisecond),
			mpb.WithWidth(80),
		)
	} else {
		// Non-TTY: no bars, plain lines only.
		p = mpb.New(mpb.WithOutput(io.Discard))
	}
	return &UploadUI{
		progress:   p,
		out:        out,
		isTerminal: isTerminal,
		totalFiles: totalFiles,
	}
}

// AddFile lists one file of the batch.
func (u *UploadUI) AddFile(path string, size int64) {
	u.mu.Lock()
	u.listed++
	index := u.listed
	u.mu.Unlock()

	fmt.Fprintf(u.Writer(), "[%d/%d] %s (%.1f MiB)\n",
		index, u.totalFiles, truncatePath(path, 2), float64(size)/(1024*1024))
}

// Wrap creates the body bar and returns a reader that advances it.
func (u *UploadUI) Wrap(r io.Reader, size int64) io.Reader {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.startTime = time.Now()
	u.size = size

	if !u.isTerminal {
		fmt.Fprintf(u.out, "Uploading %d file(s), %.1f MiB request body\n", u.totalFiles, float64(size)/(1024*1024))
		return r
	}

	u.bar = u.progress.New(size,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Name(fmt.Sprintf("Uploading %d file(s)", u.totalFiles), decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncSpace),
			decor.Name("  "),
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.EwmaSpeed(decor.SizeB1024(0), "% .1f", 30, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Name("ETA ", decor.WCSyncWidth),
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
		),
		mpb.BarRemoveOnComplete(),
	)
	return u.bar.ProxyReader(r)
}

// Complete marks the batch as finished and prints a summary line.
func (u *UploadUI) Complete(count int, err error) {
	u.mu.Lock()
	bar, size, started := u.bar, u.size, u.startTime
	u.mu.Unlock()

	elapsed := time.Since(started)
	if started.IsZero() {
		elapsed = 0
	}

	var msg string
	if err == nil {
		if bar != nil {
			bar.SetCurrent(size)
			bar.SetTotal(size, true)
		}
		speed := 0.0
		if elapsed > 0 {
			speed = float64(size) / elapsed.Seconds() / (1024 * 1024)
		}
		msg = fmt.Sprintf("✓ %d file(s) uploaded (%.1f MiB, %s, %.1f MiB/s)\n",
			count, float64(size)/(1024*1024), elapsed.Round(time.Second), speed)
	} else {
		if bar != nil {
			bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ upload of %d file(s) failed: %v\n", count, err)
	}

	fmt.Fprint(u.Writer(), msg)
}

// Wait blocks until the bar has finished rendering.
func (u *UploadUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns an io.Writer that prints above the bar in terminal mode.
func (u *UploadUI) Writer() io.Writer {
	if u.progress != nil && u.isTerminal {
		return u.progress
	}
	return u.out
}

// IsTerminal returns true if output is to a terminal (bars are active).
func (u *UploadUI) IsTerminal() bool {
	return u.isTerminal
}

// truncatePath keeps the last maxComponents path components.
// Example: truncatePath("/a/b/c/d/file.png", 3) → "…/c/d/file.png"
func truncatePath(path string, maxComponents int) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) <= maxComponents {
		return filepath.Base(path)
	}
	relevant := parts[len(parts)-maxComponents:]
	return "…/" + strings.Join(relevant, "/")
}
