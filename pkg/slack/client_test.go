package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridgeerrors "slackmatrix/internal/errors"
	"slackmatrix/internal/models"
	"slackmatrix/pkg/slack/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(models.SlackConfig{
		APIBaseURL: server.URL,
		AppToken:   "xapp-test",
		BotToken:   "xoxb-test",
		TeamID:     "T001",
		TimeoutSec: 5,
	}, server.Client(), nil)
}

func TestPostMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat.postMessage", r.URL.Path)
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))

		var req types.PostMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "C123", req.Channel)
		assert.Equal(t, "hello", req.Text)

		_ = json.NewEncoder(w).Encode(types.PostMessageResponse{
			APIResponse: types.APIResponse{OK: true},
			Channel:     "C123",
			TS:          "1724493600.000100",
		})
	})

	ts, err := client.PostMessage(context.Background(), &types.PostMessageRequest{Channel: "C123", Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "1724493600.000100", ts)
}

func TestAPIErrorMapping(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.APIResponse{OK: false, Error: "channel_not_found"})
	})

	err := client.UpdateMessage(context.Background(), "C404", "1.0", "x")
	require.Error(t, err)
	assert.Equal(t, bridgeerrors.ErrCodeSlackAPI, bridgeerrors.GetCode(err))
	assert.False(t, bridgeerrors.IsRetryable(err))
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.PostMessage(context.Background(), &types.PostMessageRequest{Channel: "C1", Text: "x"})
	require.Error(t, err)
	assert.Equal(t, bridgeerrors.ErrCodeRateLimited, bridgeerrors.GetCode(err))
	assert.Equal(t, 30*time.Second, bridgeerrors.GetRetryAfter(err))
}

func TestServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.DeleteMessage(context.Background(), "C1", "1.0")
	require.Error(t, err)
	assert.True(t, bridgeerrors.IsRetryable(err))
}

func TestAddReactionAlreadyReactedIsNoop(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(types.APIResponse{OK: false, Error: "already_reacted"})
	})

	assert.NoError(t, client.AddReaction(context.Background(), "C1", "1.0", "thumbsup"))
}

func TestLookupUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users.info", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "U123", r.Form.Get("user"))

		_ = json.NewEncoder(w).Encode(types.UsersInfoResponse{
			APIResponse: types.APIResponse{OK: true},
			User: types.User{
				ID:      "U123",
				Profile: types.Profile{DisplayName: "Alice", Image512: "https://example.com/a.png"},
			},
		})
	})

	profile, err := client.LookupUser(context.Background(), "U123")
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.DisplayName)
	assert.Equal(t, "https://example.com/a.png", profile.AvatarURL)
}

func TestLookupUserFallsBackToRealName(t *testing.T) {
	profile := types.Profile{RealName: "Alice Lastname"}
	assert.Equal(t, "Alice Lastname", profile.BestName())
}

func TestGetUploadURL(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files.getUploadURLExternal", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "report.pdf", r.Form.Get("filename"))
		assert.Equal(t, "2048", r.Form.Get("length"))

		_ = json.NewEncoder(w).Encode(types.GetUploadURLResponse{
			APIResponse: types.APIResponse{OK: true},
			UploadURL:   "https://files.example.com/upload/once",
			FileID:      "F123",
		})
	})

	uploadURL, fileID, err := client.GetUploadURL(context.Background(), "report.pdf", 2048)
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.com/upload/once", uploadURL)
	assert.Equal(t, "F123", fileID)
}

func TestDownloadFileSizeLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	})

	data, err := client.DownloadFile(context.Background(), client.baseURL+"/file", 200)
	require.NoError(t, err)
	assert.Len(t, data, 100)

	_, err = client.DownloadFile(context.Background(), client.baseURL+"/file", 50)
	require.Error(t, err)
	assert.Equal(t, bridgeerrors.ErrCodeFileTransfer, bridgeerrors.GetCode(err))
}

func TestOpenSocketURL(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apps.connections.open", r.URL.Path)
		// Socket handshake uses the app-level token.
		assert.Equal(t, "Bearer xapp-test", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(types.ConnectionsOpenResponse{
			APIResponse: types.APIResponse{OK: true},
			URL:         "wss://gateway.example.com/link",
		})
	})

	socketURL, err := client.OpenSocketURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "wss://gateway.example.com/link", socketURL)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestErrorResponseBodiesAreClosed(t *testing.T) {
	body := &closeRecorder{Reader: strings.NewReader("upstream broke")}
	newErrClient := func(b *closeRecorder) *HTTPClient {
		return NewClient(models.SlackConfig{
			APIBaseURL: "http://slack.test",
			AppToken:   "xapp-test",
			BotToken:   "xoxb-test",
			TimeoutSec: 5,
		}, &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusInternalServerError, Body: b, Header: http.Header{}}, nil
		})}, nil)
	}

	err := newErrClient(body).UploadToURL(context.Background(), "http://slack.test/upload", strings.NewReader("data"))
	require.Error(t, err)
	assert.True(t, bridgeerrors.IsRetryable(err))
	assert.True(t, body.closed, "upload error body must be closed")

	body = &closeRecorder{Reader: strings.NewReader("still broken")}
	_, err = newErrClient(body).DownloadFile(context.Background(), "http://slack.test/file", 1024)
	require.Error(t, err)
	assert.True(t, body.closed, "download error body must be closed")
}
