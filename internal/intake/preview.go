package intake

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder
	"sync"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/embedlink/embedlink/internal/constants"
	"github.com/embedlink/embedlink/internal/logging"
)

// ErrUnknownPreview is returned when releasing a handle that is not live,
// either because it was never created or because it was already released.
var ErrUnknownPreview = errors.New("preview handle not live")

// PlaceholderPreview is shown for files that cannot be decoded.
const PlaceholderPreview = "data:image/svg+xml;base64,PHN2ZyB4bWxucz0iaHR0cDovL3d3dy53My5vcmcvMjAwMC9zdmciIHdpZHRoPSIxIiBoZWlnaHQ9IjEiLz4="

// PreviewHandle identifies one preview resource. The zero value is never
// issued.
type PreviewHandle uint64

// Previews creates and releases preview resources. Every handle returned by
// Create must be passed to Release exactly once.
type Previews interface {
	Create(f File) PreviewHandle
	Release(h PreviewHandle) error
}

// Registry is the in-memory Previews implementation. It renders a JPEG
// thumbnail data URI per file and tracks which handles are live.
type Registry struct {
	render func([]byte) (string, error)
	logger *logging.Logger

	mu       sync.Mutex
	next     PreviewHandle
	live     map[PreviewHandle]string
	released int
}

// NewRegistry creates an empty registry rendering with Thumbnail.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Registry{
		render: Thumbnail,
		logger: logger,
		live:   make(map[PreviewHandle]string),
	}
}

// Create renders a preview for f and returns its handle. Undecodable files
// get the placeholder preview.
func (r *Registry) Create(f File) PreviewHandle {
	uri := PlaceholderPreview
	if data, err := f.ReadAll(); err != nil {
		r.logger.Debug().Err(err).Str("file", f.Name).Msg("Preview read failed")
	} else if rendered, err := r.render(data); err != nil {
		r.logger.Debug().Err(err).Str("file", f.Name).Msg("Preview render failed")
	} else {
		uri = rendered
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.live[r.next] = uri
	return r.next
}

// Release frees h. Releasing a handle twice returns ErrUnknownPreview.
func (r *Registry) Release(h PreviewHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[h]; !ok {
		return fmt.Errorf("release %d: %w", h, ErrUnknownPreview)
	}
	delete(r.live, h)
	r.released++
	return nil
}

// URI returns the data URI behind a live handle.
func (r *Registry) URI(h PreviewHandle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	uri, ok := r.live[h]
	return uri, ok
}

// Live returns the number of handles created and not yet released. A
// non-zero count after teardown is a leak.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Released returns how many handles have been released.
func (r *Registry) Released() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// Thumbnail decodes an image, fits it into the preview bounding box and
// returns it as a base64 JPEG data URI.
func Thumbnail(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	thumb := resize.Thumbnail(constants.PreviewMaxWidth, constants.PreviewMaxHeight, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: constants.PreviewJPEGQuality}); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
