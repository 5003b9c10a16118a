package operation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/embedlink/embedlink/internal/api"
	"github.com/embedlink/embedlink/internal/events"
	"github.com/embedlink/embedlink/internal/intake"
	"github.com/embedlink/embedlink/internal/notify"
)

// UploadAPI is the part of the service client the upload view uses.
type UploadAPI interface {
	Configured() bool
	UploadImages(ctx context.Context, files []intake.File, opts ...api.UploadOption) error
}

// ItemStatus is the lifecycle of one queued file.
type ItemStatus string

const (
	ItemPending ItemStatus = "pending" // part of an in-flight batch
	ItemQueued  ItemStatus = "queued"  // accepted, waiting for submit
	ItemReady   ItemStatus = "ready"
	ItemFailed  ItemStatus = "failed" // last batch attempt failed; kept for retry
)

// Item is one file in the upload collection.
type Item struct {
	ID      int                  `json:"id"`
	File    intake.File          `json:"-"`
	Name    string               `json:"name"`
	Size    int64                `json:"size"`
	Preview intake.PreviewHandle `json:"preview"`
	Status  ItemStatus           `json:"status"`
}

// SizeText renders the item size for display.
func (it Item) SizeText() string {
	return intake.FormatSize(it.Size)
}

// UploadResult reports an accepted batch.
type UploadResult struct {
	Count int `json:"count"`
}

// Upload is the batch controller: an ordered collection of files sent as
// one all-or-nothing request.
type Upload struct {
	*Controller[UploadResult]

	previews intake.Previews
	bus      *events.EventBus

	mu       sync.Mutex
	items    []*Item
	nextID   int
	inFlight bool
	closed   bool
	wrap     func(io.Reader, int64) io.Reader
}

// NewUpload creates the upload controller.
func NewUpload(client UploadAPI, previews intake.Previews, opts Options) *Upload {
	u := &Upload{previews: previews, bus: opts.Bus}

	strategy := Strategy[UploadResult]{
		View: "upload",
		Prepare: func() (SubmitFunc[UploadResult], error) {
			files, wrap := u.capture()
			if len(files) == 0 {
				u.release()
				return nil, api.ValidationError("upload", "no files selected")
			}
			if !client.Configured() {
				u.release()
				return nil, api.ConfigurationError("upload", "API base URL is missing")
			}

			var uploadOpts []api.UploadOption
			if wrap != nil {
				uploadOpts = append(uploadOpts, api.WithBodyWrapper(wrap))
			}
			return func(ctx context.Context) (Outcome[UploadResult], error) {
				if err := client.UploadImages(ctx, files, uploadOpts...); err != nil {
					return Outcome[UploadResult]{}, err
				}
				return Outcome[UploadResult]{Result: UploadResult{Count: len(files)}}, nil
			}, nil
		},
		OnTransition: u.onTransition,
		Announce:     announceUpload,
	}

	u.Controller = NewController(strategy, opts)
	return u
}

// capture copies the collection and locks it against edits until the
// batch ends or release is called.
func (u *Upload) capture() ([]intake.File, func(io.Reader, int64) io.Reader) {
	u.mu.Lock()
	defer u.mu.Unlock()
	files := make([]intake.File, len(u.items))
	for i, it := range u.items {
		files[i] = it.File
	}
	u.inFlight = true
	return files, u.wrap
}

// release unlocks the collection after a rejected submission.
func (u *Upload) release() {
	u.mu.Lock()
	u.inFlight = false
	u.mu.Unlock()
}

// SetBodyWrapper installs a wrapper for the request body of later
// submissions, e.g. a progress bar reader.
func (u *Upload) SetBodyWrapper(wrap func(r io.Reader, size int64) io.Reader) {
	u.mu.Lock()
	u.wrap = wrap
	u.mu.Unlock()
}

// AddFiles partitions a selection by the extension allow-list. Accepted
// files join the collection with a preview each; rejected files never do
// and are reported with a warning notification. No request is made.
func (u *Upload) AddFiles(files []intake.File) ([]Item, []intake.File, error) {
	accepted, rejected := intake.Partition(files)

	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if u.inFlight {
		u.mu.Unlock()
		return nil, nil, ErrBusy
	}

	added := make([]Item, 0, len(accepted))
	for _, f := range accepted {
		u.nextID++
		it := &Item{
			ID:      u.nextID,
			File:    f,
			Name:    f.Name,
			Size:    f.Size,
			Preview: u.previews.Create(f),
			Status:  ItemQueued,
		}
		u.items = append(u.items, it)
		added = append(added, *it)
	}
	pending := len(u.items)
	u.mu.Unlock()

	for _, it := range added {
		u.bus.PublishQueue(events.QueueEvent{View: "upload", Action: "added", ItemID: it.ID, Name: it.Name, Status: string(it.Status), Pending: pending})
	}

	if len(rejected) > 0 {
		u.Notifier().Show(
			fmt.Sprintf("%d file(s) rejected. Allowed formats: %s.", len(rejected), intake.AllowedList()),
			notify.SeverityWarning,
		)
	}
	return added, rejected, nil
}

// RemoveItem drops an item and releases its preview immediately. It is a
// no-op returning ErrBusy while a batch is in flight.
func (u *Upload) RemoveItem(id int) (bool, error) {
	u.mu.Lock()
	if u.inFlight {
		u.mu.Unlock()
		return false, ErrBusy
	}
	idx := -1
	for i, it := range u.items {
		if it.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		u.mu.Unlock()
		return false, nil
	}
	it := u.items[idx]
	u.items = append(u.items[:idx], u.items[idx+1:]...)
	u.releasePreviewLocked(it)
	pending := len(u.items)
	u.mu.Unlock()

	u.bus.PublishQueue(events.QueueEvent{View: "upload", Action: "removed", ItemID: id, Name: it.Name, Pending: pending})
	return true, nil
}

// Items returns the collection in insertion order.
func (u *Upload) Items() []Item {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Item, len(u.items))
	for i, it := range u.items {
		out[i] = *it
	}
	return out
}

// Reset returns to Idle and empties the collection, releasing every preview.
func (u *Upload) Reset() {
	u.Controller.Reset()
	u.mu.Lock()
	u.clearLocked()
	u.mu.Unlock()
	u.bus.PublishQueue(events.QueueEvent{View: "upload", Action: "cleared"})
}

// Close tears the view down and releases every preview.
func (u *Upload) Close() {
	u.Controller.Close()
	u.mu.Lock()
	u.closed = true
	u.inFlight = false
	u.clearLocked()
	u.mu.Unlock()
}

func (u *Upload) clearLocked() {
	for _, it := range u.items {
		u.releasePreviewLocked(it)
	}
	u.items = nil
}

func (u *Upload) releasePreviewLocked(it *Item) {
	if err := u.previews.Release(it.Preview); err != nil {
		u.logger.Warn().Err(err).Int("item", it.ID).Str("file", it.Name).Msg("Preview release failed")
	}
}

// onTransition keeps item statuses in step with the batch. It runs under
// the controller lock.
func (u *Upload) onTransition(tr Transition[UploadResult]) {
	u.mu.Lock()
	defer u.mu.Unlock()

	wasInFlight := u.inFlight
	u.inFlight = tr.To.InFlight()

	switch {
	case tr.To.InFlight() && !tr.From.InFlight():
		u.setStatusLocked(ItemPending)

	case tr.To == Succeeded:
		u.clearLocked()
		u.bus.PublishQueue(events.QueueEvent{View: "upload", Action: "cleared"})

	case tr.To == Failed && wasInFlight:
		u.setStatusLocked(ItemFailed)
	}
}

func (u *Upload) setStatusLocked(status ItemStatus) {
	for _, it := range u.items {
		it.Status = status
		u.bus.PublishQueue(events.QueueEvent{View: "upload", Action: "status", ItemID: it.ID, Name: it.Name, Status: string(status), Pending: len(u.items)})
	}
}

func announceUpload(tr Transition[UploadResult]) (string, notify.Severity, bool) {
	if tr.Err != nil && errors.Is(tr.Err, api.ErrValidation) {
		return "Please select at least one file before uploading.", notify.SeverityWarning, true
	}

	switch tr.To {
	case Succeeded:
		r, _ := tr.Snapshot.Result()
		return fmt.Sprintf("Successfully uploaded %d file(s)!", r.Count), notify.SeveritySuccess, true
	case Failed:
		d, _ := tr.Snapshot.Error()
		switch {
		case errors.Is(tr.Err, api.ErrConfiguration):
			return "Server configuration error. API base URL is missing.", notify.SeverityError, true
		case d.StatusCode != 0 || errors.Is(tr.Err, api.ErrProtocol):
			return "Upload failed. Please try again.", notify.SeverityError, true
		default:
			return "Network Error: Failed to reach server.", notify.SeverityError, true
		}
	}
	return "", "", false
}
