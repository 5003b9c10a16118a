package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embedlink/embedlink/internal/config"
	"github.com/embedlink/embedlink/internal/intake"
	"github.com/embedlink/embedlink/internal/ratelimit"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	cfg := config.NewConfig()
	cfg.APIBaseURL = baseURL
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)
	return client
}

func TestEmptyBaseURLIsConfigurationError(t *testing.T) {
	client := newTestClient(t, "")
	assert.False(t, client.Configured())

	_, err := client.StartTraining(context.Background())
	assert.ErrorIs(t, err, ErrConfiguration)

	_, err = client.CompareImage(context.Background(), intake.FromBytes("a.png", []byte("x")))
	assert.ErrorIs(t, err, ErrConfiguration)

	err = client.UploadImages(context.Background(), []intake.File{intake.FromBytes("a.png", []byte("x"))})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestStartTraining(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantID  string
		wantErr error
	}{
		{"string id", `{"job_id": "abc-123"}`, "abc-123", nil},
		{"numeric id", `{"job_id": 42}`, "42", nil},
		{"missing id", `{"status": "ok"}`, "", ErrProtocol},
		{"null id", `{"job_id": null}`, "", ErrProtocol},
		{"blank id", `{"job_id": "  "}`, "", ErrProtocol},
		{"not json", `<html>`, "", ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/start_train", r.URL.Path)
				assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			id, err := newTestClient(t, srv.URL+"/").StartTraining(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestMissingIDMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).StartTraining(context.Background())
	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, "identifier missing", apiErr.Message)
	assert.Equal(t, "protocol", KindName(err))
}

func TestGetTrainingStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/train_status/job%201", r.URL.EscapedPath())
		json.NewEncoder(w).Encode(TrainingStatus{Status: "running", Progress: 40, Processed: 4, Total: 10})
	}))
	defer srv.Close()

	status, err := newTestClient(t, srv.URL).GetTrainingStatus(context.Background(), "job 1")
	require.NoError(t, err)
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, 4, status.Processed)
	assert.Equal(t, 10, status.Total)
	assert.InDelta(t, 40.0, status.Progress, 1e-9)
}

func TestGetTrainingStatusTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(t, srv.URL)
	client.pollTimeout = 50 * time.Millisecond

	_, err := client.GetTrainingStatus(context.Background(), "1")
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatusErrorKeepsBoundedPrefix(t *testing.T) {
	long := strings.Repeat("é", 200) // 400 bytes
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, long)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CompareImage(context.Background(), intake.FromBytes("q.png", []byte("img")))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)

	apiErr, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.LessOrEqual(t, len(apiErr.Detail), 100)
	assert.Equal(t, strings.Repeat("é", 50), apiErr.Detail)
}

func TestCompareImageSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/compare_image", r.URL.Path)
		assert.Greater(t, r.ContentLength, int64(0))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "query.jpg", hdr.Filename)
		assert.Equal(t, "jpeg-bytes", string(data))

		io.WriteString(w, `[{"path": "a.png", "score": 0.9}, {"path": "b.png", "score": 0.5}]`)
	}))
	defer srv.Close()

	matches, err := newTestClient(t, srv.URL).CompareImage(context.Background(), intake.FromBytes("query.jpg", []byte("jpeg-bytes")))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, Match{Path: "a.png", Score: 0.9}, matches[0])
}

func TestCompareImageRejectsNonArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error": "nope"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).CompareImage(context.Background(), intake.FromBytes("q.png", nil))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestUploadImagesRepeatsFileField(t *testing.T) {
	var wrapped int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		files := r.MultipartForm.File["file"]
		require.Len(t, files, 3)
		assert.Equal(t, "a.png", files[0].Filename)
		assert.Equal(t, "b.bmp", files[1].Filename)
		assert.Equal(t, "c.webp", files[2].Filename)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	files := []intake.File{
		intake.FromBytes("a.png", []byte("aaa")),
		intake.FromBytes("b.bmp", []byte("bbb")),
		intake.FromBytes("c.webp", []byte("ccc")),
	}
	err := newTestClient(t, srv.URL).UploadImages(context.Background(), files,
		WithBodyWrapper(func(r io.Reader, size int64) io.Reader {
			atomic.StoreInt64(&wrapped, size)
			return r
		}))
	require.NoError(t, err)
	assert.Greater(t, atomic.LoadInt64(&wrapped), int64(9))
}

func TestTransportErrorCarriesTransportText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, url).StartTraining(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "connect")
}

func TestThrottledResponseSetsCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.StartTraining(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Greater(t, client.limiters.Scope(ratelimit.ScopePoll).CooldownRemaining(), time.Second, "a 429 holds every scope")
}

func TestFetchImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/image", r.URL.Path)
		assert.Equal(t, "dir/cat 1.png", r.URL.Query().Get("path"))
		w.Header().Set("Content-Type", "image/png")
		io.WriteString(w, "png-bytes")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	var buf bytes.Buffer
	n, ct, err := client.FetchImage(context.Background(), "dir/cat 1.png", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, "png-bytes", buf.String())

	_, _, err = client.FetchImage(context.Background(), "", &buf)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, srv.URL+"/image?path=dir%2Fcat+1.png", client.ImageURL("dir/cat 1.png"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 100))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "", Truncate("abc", 0))
	// "é" is two bytes; never split it.
	assert.Equal(t, "a", Truncate("aé", 2))
}

func TestErrorUnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := TransportError("upload", cause)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "upload: connection refused", err.Error())

	status := StatusError("search", 502, []byte("bad gateway"))
	assert.Equal(t, "search: server returned status 502", status.Error())
}
