package slack

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, serverURL string, opts ...ClientOption) *HTTPClient {
	t.Helper()
	opts = append([]ClientOption{
		WithBaseURL(serverURL),
		WithBaseBackoff(time.Millisecond),
	}, opts...)
	client, err := NewClient("xoxb-test", opts...)
	require.NoError(t, err)
	return client
}

func writeOK(t *testing.T, w http.ResponseWriter, body map[string]interface{}) {
	t.Helper()
	if body == nil {
		body = map[string]interface{}{}
	}
	body["ok"] = true
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(body))
}

func TestNewClient_RequiresToken(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrTokenRequired)
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient("xoxb-test")
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Equal(t, 3, client.maxRetries)
	assert.Equal(t, time.Second, client.baseBackoff)
	assert.Zero(t, client.maxDownloadBytes)
}

func TestNewClient_Options(t *testing.T) {
	hc := &http.Client{}
	client, err := NewClient("xoxb-test",
		WithBaseURL("http://localhost:9999/api/"),
		WithHTTPClient(hc),
		WithMaxRetries(7),
		WithBaseBackoff(2*time.Second),
		WithMaxDownloadBytes(1024),
	)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999/api", client.baseURL)
	assert.Same(t, hc, client.httpClient)
	assert.Equal(t, 7, client.maxRetries)
	assert.Equal(t, 2*time.Second, client.baseBackoff)
	assert.Equal(t, int64(1024), client.maxDownloadBytes)
}

func TestHTTPClient_FileInfo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files.info", r.URL.Path)
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "F123", r.PostForm.Get("file"))

		writeOK(t, w, map[string]interface{}{
			"file": map[string]interface{}{
				"id":                   "F123",
				"name":                 "clip.MP4",
				"mimetype":             "video/mp4",
				"url_private":          "https://files.example/private",
				"url_private_download": "https://files.example/download",
				"shares": map[string]interface{}{
					"public": map[string]interface{}{
						"C1": []map[string]string{{"ts": "111.222", "thread_ts": "100.000"}},
					},
				},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	file, err := client.FileInfo(context.Background(), "F123")
	require.NoError(t, err)

	assert.Equal(t, "clip.MP4", file.Name)
	assert.Equal(t, "video/mp4", file.Mimetype)
	assert.Equal(t, "https://files.example/download", file.DownloadURL())

	share, ok := file.ShareIn("C1")
	require.True(t, ok)
	assert.Equal(t, "111.222", share.TS)
	assert.Equal(t, "100.000", share.ThreadRoot())

	_, ok = file.ShareIn("C2")
	assert.False(t, ok)
}

func TestHTTPClient_FileInfo_RequiresID(t *testing.T) {
	client := newTestClient(t, "http://unused")
	_, err := client.FileInfo(context.Background(), "")
	assert.ErrorIs(t, err, ErrFileIDRequired)
}

func TestHTTPClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"file_not_found"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.FileInfo(context.Background(), "F404")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "files.info", apiErr.Method)
	assert.Equal(t, "file_not_found", apiErr.Code)
	assert.Equal(t, "slack: files.info: file_not_found", apiErr.Error())
}

func TestHTTPClient_PostMessage(t *testing.T) {
	tests := []struct {
		name     string
		threadTS string
	}{
		{"top level", ""},
		{"threaded", "111.222"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/chat.postMessage", r.URL.Path)
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "C1", r.PostForm.Get("channel"))
				assert.Equal(t, "hello", r.PostForm.Get("text"))
				assert.Equal(t, tt.threadTS, r.PostForm.Get("thread_ts"))
				_, hasThread := r.PostForm["thread_ts"]
				assert.Equal(t, tt.threadTS != "", hasThread)

				writeOK(t, w, map[string]interface{}{"channel": "C1", "ts": "999.000"})
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)
			ts, err := client.PostMessage(context.Background(), "C1", tt.threadTS, "hello")
			require.NoError(t, err)
			assert.Equal(t, "999.000", ts)
		})
	}
}

func TestHTTPClient_PostMessage_RequiresChannel(t *testing.T) {
	client := newTestClient(t, "http://unused")
	_, err := client.PostMessage(context.Background(), "", "", "x")
	assert.ErrorIs(t, err, ErrChannelRequired)
}

func TestHTTPClient_UpdateMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.update", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "C1", r.PostForm.Get("channel"))
		assert.Equal(t, "999.000", r.PostForm.Get("ts"))
		assert.Equal(t, "done", r.PostForm.Get("text"))
		writeOK(t, w, nil)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	require.NoError(t, client.UpdateMessage(context.Background(), "C1", "999.000", "done"))
}

func TestHTTPClient_Reactions(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "C1", r.PostForm.Get("channel"))
		assert.Equal(t, "111.222", r.PostForm.Get("timestamp"))
		assert.Equal(t, "white_check_mark", r.PostForm.Get("name"))

		if r.URL.Path == "/reactions.add" {
			_, _ = w.Write([]byte(`{"ok":false,"error":"already_reacted"}`))
			return
		}
		writeOK(t, w, nil)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.AddReaction(context.Background(), "C1", "111.222", "white_check_mark")
	require.Error(t, err)
	assert.True(t, IsReactionNoop(err))

	require.NoError(t, client.RemoveReaction(context.Background(), "C1", "111.222", "white_check_mark"))
	assert.Equal(t, []string{"/reactions.add", "/reactions.remove"}, paths)
}

func TestIsReactionNoop(t *testing.T) {
	assert.True(t, IsReactionNoop(&APIError{Method: "reactions.add", Code: "already_reacted"}))
	assert.True(t, IsReactionNoop(&APIError{Method: "reactions.remove", Code: "no_reaction"}))
	assert.False(t, IsReactionNoop(&APIError{Method: "reactions.add", Code: "channel_not_found"}))
	assert.False(t, IsReactionNoop(errors.New("boom")))
	assert.False(t, IsReactionNoop(nil))
}

func TestHTTPClient_OpenConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apps.connections.open", r.URL.Path)
		writeOK(t, w, map[string]interface{}{"url": "wss://wss.example/link"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	u, err := client.OpenConnection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://wss.example/link", u)
}

func TestHTTPClient_OpenConnection_NoURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeOK(t, w, nil)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.OpenConnection(context.Background())
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestHTTPClient_RetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeOK(t, w, nil)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	require.NoError(t, client.UpdateMessage(context.Background(), "C1", "1.0", "x"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_PostMessage_NoRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.PostMessage(context.Background(), "C1", "", "hi")
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(1), calls.Load(), "a second post could duplicate the message")
}

func TestHTTPClient_PostMessage_RetryOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeOK(t, w, map[string]interface{}{"ts": "1.0"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ts, err := client.PostMessage(context.Background(), "C1", "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "1.0", ts)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_RetryOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeOK(t, w, nil)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	require.NoError(t, client.UpdateMessage(context.Background(), "C1", "1.0", "x"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithMaxRetries(2))
	err := client.UpdateMessage(context.Background(), "C1", "1.0", "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	err := client.UpdateMessage(context.Background(), "C1", "1.0", "x")
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_RetryHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, WithBaseBackoff(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.UpdateMessage(ctx, "C1", "1.0", "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-1"))
}

// mp4Header is enough of an ISO BMFF header for content sniffing.
var mp4Header = []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2', 0x00, 0x00, 0x00, 0x00, 'm', 'p', '4', '2', 'i', 's', 'o', 'm'}

func TestHTTPClient_Download(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(mp4Header)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	dest := filepath.Join(t.TempDir(), "nested", "video.mp4")

	require.NoError(t, client.Download(context.Background(), server.URL+"/files/F1", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, mp4Header, data)
}

func TestHTTPClient_Download_Failures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		opts     []ClientOption
		expected error
	}{
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			},
			expected: ErrRequestFailed,
		},
		{
			name: "html content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = w.Write([]byte("<html><body>Sign in</body></html>"))
			},
			expected: ErrUnexpectedContent,
		},
		{
			name: "html body behind binary content type",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/octet-stream")
				_, _ = w.Write([]byte("<!DOCTYPE html><html><head><title>Slack</title></head><body></body></html>"))
			},
			expected: ErrUnexpectedContent,
		},
		{
			name: "exceeds size limit",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "video/mp4")
				_, _ = w.Write(append(mp4Header, make([]byte, 100)...))
			},
			opts:     []ClientOption{WithMaxDownloadBytes(32)},
			expected: ErrDownloadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := newTestClient(t, server.URL, tt.opts...)
			dest := filepath.Join(t.TempDir(), "video.mp4")

			err := client.Download(context.Background(), server.URL, dest)
			assert.ErrorIs(t, err, tt.expected)

			_, statErr := os.Stat(dest)
			assert.True(t, os.IsNotExist(statErr), "partial download should be removed")
		})
	}
}

func TestHTTPClient_UploadFile(t *testing.T) {
	var steps []string
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		steps = append(steps, r.URL.Path)
		switch r.URL.Path {
		case "/files.getUploadURLExternal":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "frame_0001.jpg", r.PostForm.Get("filename"))
			assert.Equal(t, "10", r.PostForm.Get("length"))
			writeOK(t, w, map[string]interface{}{
				"upload_url": server.URL + "/upload/abc",
				"file_id":    "F900",
			})
		case "/upload/abc":
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			assert.Equal(t, "jpeg-bytes", string(body))
			w.WriteHeader(http.StatusOK)
		case "/files.completeUploadExternal":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "C1", r.PostForm.Get("channel_id"))
			assert.Equal(t, "111.222", r.PostForm.Get("thread_ts"))
			assert.Equal(t, "Frame 1/3 (0:00)", r.PostForm.Get("initial_comment"))

			var files []completeFile
			require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("files")), &files))
			assert.Equal(t, []completeFile{{ID: "F900", Title: "Frame 1"}}, files)
			writeOK(t, w, nil)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "frame_0001.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0600))

	client := newTestClient(t, server.URL)
	err := client.UploadFile(context.Background(), UploadParams{
		Path:      path,
		Title:     "Frame 1",
		ChannelID: "C1",
		ThreadTS:  "111.222",
		Comment:   "Frame 1/3 (0:00)",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/files.getUploadURLExternal", "/upload/abc", "/files.completeUploadExternal"}, steps)
}

func TestHTTPClient_UploadFile_Validation(t *testing.T) {
	client := newTestClient(t, "http://unused")

	err := client.UploadFile(context.Background(), UploadParams{ChannelID: "C1"})
	assert.ErrorIs(t, err, ErrUploadPathRequired)

	err = client.UploadFile(context.Background(), UploadParams{Path: "x.jpg"})
	assert.ErrorIs(t, err, ErrChannelRequired)

	err = client.UploadFile(context.Background(), UploadParams{Path: filepath.Join(t.TempDir(), "missing.jpg"), ChannelID: "C1"})
	assert.Error(t, err)
}

func TestHTTPClient_UploadFile_UploadRejected(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files.getUploadURLExternal":
			writeOK(t, w, map[string]interface{}{"upload_url": server.URL + "/upload", "file_id": "F1"})
		case "/upload":
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		default:
			t.Errorf("completion must not run after a rejected upload, got %s", r.URL.Path)
		}
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "frame.jpg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

	client := newTestClient(t, server.URL)
	err := client.UploadFile(context.Background(), UploadParams{Path: path, ChannelID: "C1"})
	assert.ErrorIs(t, err, ErrRequestFailed)
}

func TestHTTPClient_UploadFile_NoRetryOnCompleteServerError(t *testing.T) {
	var completes atomic.Int32
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files.getUploadURLExternal":
			writeOK(t, w, map[string]interface{}{"upload_url": server.URL + "/upload", "file_id": "F1"})
		case "/upload":
			w.WriteHeader(http.StatusOK)
		case "/files.completeUploadExternal":
			completes.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "frame.jpg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

	client := newTestClient(t, server.URL)
	err := client.UploadFile(context.Background(), UploadParams{Path: path, ChannelID: "C1"})
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, int32(1), completes.Load())
}
