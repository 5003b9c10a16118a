package operation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/embedlink/embedlink/internal/api"
	"github.com/embedlink/embedlink/internal/intake"
	"github.com/embedlink/embedlink/internal/notify"
)

// SearchAPI is the part of the service client the search view uses.
type SearchAPI interface {
	Configured() bool
	CompareImage(ctx context.Context, f intake.File) ([]api.Match, error)
}

// Ranked is one normalised search hit.
type Ranked struct {
	Locator string  `json:"locator"`
	Score   float64 `json:"score"` // within [0, 1]
}

// SearchResult is the ranked result list. An empty list is a valid result.
type SearchResult struct {
	Matches []Ranked `json:"matches"`
}

// Search is the single-shot controller for similarity search. It owns the
// selected query image and its preview.
type Search struct {
	*Controller[SearchResult]

	previews intake.Previews

	mu        sync.Mutex
	selection *intake.File
	preview   intake.PreviewHandle
	inFlight  bool
	closed    bool
}

// NewSearch creates the search controller.
func NewSearch(client SearchAPI, previews intake.Previews, opts Options) *Search {
	s := &Search{previews: previews}

	strategy := Strategy[SearchResult]{
		View: "search",
		Prepare: func() (SubmitFunc[SearchResult], error) {
			s.mu.Lock()
			sel := s.selection
			s.inFlight = sel != nil
			s.mu.Unlock()

			if sel == nil {
				return nil, api.ValidationError("search", "no input selected")
			}
			if !client.Configured() {
				s.mu.Lock()
				s.inFlight = false
				s.mu.Unlock()
				return nil, api.ConfigurationError("search", "API base URL is missing")
			}
			query := *sel
			return func(ctx context.Context) (Outcome[SearchResult], error) {
				matches, err := client.CompareImage(ctx, query)
				if err != nil {
					return Outcome[SearchResult]{}, err
				}
				return Outcome[SearchResult]{Result: NormalizeMatches(matches)}, nil
			}, nil
		},
		OnTransition: func(tr Transition[SearchResult]) {
			s.mu.Lock()
			s.inFlight = tr.To.InFlight()
			s.mu.Unlock()
		},
		Announce: announceSearch,
	}

	s.Controller = NewController(strategy, opts)
	return s
}

// Select replaces the query image. Files with a disallowed extension are
// rejected with an error notification. A previous result is cleared.
func (s *Search) Select(f intake.File) error {
	if !intake.IsAllowed(f.Name) {
		s.Notifier().Show("Invalid file format. Allowed: "+intake.AllowedList(), notify.SeverityError)
		return api.ValidationError("select", fmt.Sprintf("%s: extension not allowed", f.Name))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.inFlight {
		s.mu.Unlock()
		return ErrBusy
	}
	s.releaseLocked()
	file := f
	s.selection = &file
	s.preview = s.previews.Create(f)
	s.mu.Unlock()

	if s.Snapshot().State().Terminal() {
		s.Controller.Reset()
	}
	return nil
}

// Selection returns the selected file and its preview handle.
func (s *Search) Selection() (intake.File, intake.PreviewHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selection == nil {
		return intake.File{}, 0, false
	}
	return *s.selection, s.preview, true
}

// Reset returns to Idle and drops the selection, releasing its preview.
func (s *Search) Reset() {
	s.Controller.Reset()
	s.mu.Lock()
	s.releaseLocked()
	s.mu.Unlock()
}

// Close tears the view down and releases the preview.
func (s *Search) Close() {
	s.Controller.Close()
	s.mu.Lock()
	s.closed = true
	s.inFlight = false
	s.releaseLocked()
	s.mu.Unlock()
}

func (s *Search) releaseLocked() {
	if s.selection == nil {
		return
	}
	if s.preview != 0 {
		if err := s.previews.Release(s.preview); err != nil {
			s.logger.Warn().Err(err).Str("file", s.selection.Name).Msg("Preview release failed")
		}
	}
	s.selection = nil
	s.preview = 0
}

// NormalizeMatches converts raw matches to ranked entries: scores clamped to
// [0, 1], ordered by descending score, ties kept in server order.
func NormalizeMatches(matches []api.Match) SearchResult {
	ranked := make([]Ranked, 0, len(matches))
	for _, m := range matches {
		score := m.Score
		switch {
		case score != score: // NaN
			score = 0
		case score < 0:
			score = 0
		case score > 1:
			score = 1
		}
		ranked = append(ranked, Ranked{Locator: m.Path, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	return SearchResult{Matches: ranked}
}

func announceSearch(tr Transition[SearchResult]) (string, notify.Severity, bool) {
	if tr.Err != nil && errors.Is(tr.Err, api.ErrValidation) {
		return "Please select an image first", notify.SeverityWarning, true
	}

	switch tr.To {
	case Succeeded:
		r, _ := tr.Snapshot.Result()
		if len(r.Matches) == 0 {
			return "No similar images found.", notify.SeverityWarning, true
		}
		return fmt.Sprintf("Found %d similar images!", len(r.Matches)), notify.SeveritySuccess, true

	case Failed:
		d, _ := tr.Snapshot.Error()
		switch {
		case errors.Is(tr.Err, api.ErrConfiguration):
			return "Server configuration error. API base URL is missing.", notify.SeverityError, true
		case d.StatusCode != 0:
			return "Search failed. Server returned: " + d.Detail, notify.SeverityError, true
		case errors.Is(tr.Err, api.ErrProtocol):
			return "Search failed. " + d.Message, notify.SeverityError, true
		default:
			return "Network Error: " + d.Message, notify.SeverityError, true
		}
	}
	return "", "", false
}
