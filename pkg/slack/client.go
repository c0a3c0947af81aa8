package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	bridgeerrors "slackmatrix/internal/errors"
	"slackmatrix/internal/models"
	"slackmatrix/pkg/slack/types"
)

// Client is the Slack Web API surface the bridge uses.
type Client interface {
	PostMessage(ctx context.Context, req *types.PostMessageRequest) (string, error)
	UpdateMessage(ctx context.Context, channel, ts, text string) error
	DeleteMessage(ctx context.Context, channel, ts string) error
	AddReaction(ctx context.Context, channel, ts, name string) error
	RemoveReaction(ctx context.Context, channel, ts, name string) error

	LookupUser(ctx context.Context, slackUserID string) (*models.SlackProfile, error)
	GetConversation(ctx context.Context, channelID string) (*types.Conversation, error)
	CreateChannel(ctx context.Context, name string) (string, string, error)

	GetUploadURL(ctx context.Context, filename string, size int64) (uploadURL, fileID string, err error)
	UploadToURL(ctx context.Context, uploadURL string, data io.Reader) error
	CompleteUpload(ctx context.Context, fileID, title, channelID, threadTS string) error
	DownloadFile(ctx context.Context, fileURL string, maxBytes int64) ([]byte, error)

	OpenSocketURL(ctx context.Context) (string, error)
	AuthTest(ctx context.Context) (*types.AuthTestResponse, error)
}

// HTTPClient talks to the Slack Web API. 429 responses surface as
// RateLimited errors carrying the verbatim Retry-After interval; the
// dispatcher honors it exactly instead of its backoff curve.
type HTTPClient struct {
	baseURL  string
	appToken string
	botToken string
	teamID   string
	client   *http.Client
	logger   *logrus.Logger
}

func NewClient(cfg models.SlackConfig, httpClient *http.Client, logger *logrus.Logger) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	baseURL := strings.TrimSuffix(cfg.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}

	return &HTTPClient{
		baseURL:  baseURL,
		appToken: cfg.AppToken,
		botToken: cfg.BotToken,
		teamID:   cfg.TeamID,
		client:   httpClient,
		logger:   logger,
	}
}

func (c *HTTPClient) PostMessage(ctx context.Context, req *types.PostMessageRequest) (string, error) {
	var resp types.PostMessageResponse
	if err := c.callJSON(ctx, "chat.postMessage", c.botToken, req, &resp); err != nil {
		return "", err
	}
	return resp.TS, nil
}

func (c *HTTPClient) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	var resp types.APIResponse
	return c.callJSON(ctx, "chat.update", c.botToken,
		&types.UpdateMessageRequest{Channel: channel, TS: ts, Text: text}, &resp)
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, channel, ts string) error {
	var resp types.APIResponse
	return c.callJSON(ctx, "chat.delete", c.botToken,
		&types.DeleteMessageRequest{Channel: channel, TS: ts}, &resp)
}

func (c *HTTPClient) AddReaction(ctx context.Context, channel, ts, name string) error {
	var resp types.APIResponse
	err := c.callJSON(ctx, "reactions.add", c.botToken,
		&types.ReactionRequest{Channel: channel, Timestamp: ts, Name: name}, &resp)
	if bridgeerrors.GetCode(err) == bridgeerrors.ErrCodeSlackAPI && strings.Contains(err.Error(), "already_reacted") {
		return nil
	}
	return err
}

func (c *HTTPClient) RemoveReaction(ctx context.Context, channel, ts, name string) error {
	var resp types.APIResponse
	err := c.callJSON(ctx, "reactions.remove", c.botToken,
		&types.ReactionRequest{Channel: channel, Timestamp: ts, Name: name}, &resp)
	if bridgeerrors.GetCode(err) == bridgeerrors.ErrCodeSlackAPI && strings.Contains(err.Error(), "no_reaction") {
		return nil
	}
	return err
}

func (c *HTTPClient) LookupUser(ctx context.Context, slackUserID string) (*models.SlackProfile, error) {
	var resp types.UsersInfoResponse
	params := url.Values{"user": {slackUserID}}
	if err := c.callForm(ctx, "users.info", c.botToken, params, &resp); err != nil {
		return nil, err
	}
	return &models.SlackProfile{
		DisplayName: resp.User.Profile.BestName(),
		AvatarURL:   resp.User.Profile.Image512,
	}, nil
}

func (c *HTTPClient) GetConversation(ctx context.Context, channelID string) (*types.Conversation, error) {
	var resp types.ConversationResponse
	params := url.Values{"channel": {channelID}}
	if err := c.callForm(ctx, "conversations.info", c.botToken, params, &resp); err != nil {
		return nil, err
	}
	return &resp.Channel, nil
}

// CreateChannel provisions a public channel and returns its ID and the
// workspace team ID.
func (c *HTTPClient) CreateChannel(ctx context.Context, name string) (string, string, error) {
	var resp types.ConversationResponse
	body := map[string]interface{}{"name": name}
	if err := c.callJSON(ctx, "conversations.create", c.botToken, body, &resp); err != nil {
		return "", "", err
	}
	return resp.Channel.ID, c.teamID, nil
}

// GetUploadURL is step one of the external upload flow: a one-time URL
// plus a file handle for the later completion call.
func (c *HTTPClient) GetUploadURL(ctx context.Context, filename string, size int64) (string, string, error) {
	var resp types.GetUploadURLResponse
	params := url.Values{
		"filename": {filename},
		"length":   {fmt.Sprintf("%d", size)},
	}
	if err := c.callForm(ctx, "files.getUploadURLExternal", c.botToken, params, &resp); err != nil {
		return "", "", err
	}
	return resp.UploadURL, resp.FileID, nil
}

// UploadToURL is step two: stream the bytes to the issued URL. The URL
// is single-use; a failure here means restarting from step one.
func (c *HTTPClient) UploadToURL(ctx context.Context, uploadURL string, data io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, data)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if cerr := bridgeerrors.ClassifyHTTP(err, resp); cerr != nil {
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		return cerr
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return nil
}

/// CompleteUpload is step three: attach the uploaded file to a channel.
func (c *HTTPClient) CompleteUpload(ctx context.Context, fileID, title, channelID, threadTS string) error {
	var resp types.CompleteUploadResponse
	body := map[string]interface{}{
		"files":      []map[string]string{{"id": fileID, "title": title}},
		"channel_id": channelID,
	}
	if threadTS != "" {
		body["thread_ts"] = threadTS
	}
	return c.callJSON(ctx, "files.completeUploadExternal", c.botToken, body, &resp)
}

// DownloadFile fetches a url_private_download with the bot token,
// refusing bodies larger than maxBytes.
func (c *HTTPClient) DownloadFile(ctx context.Context, fileURL string, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.client.Do(req)
	if cerr := bridgeerrors.ClassifyHTTP(err, resp); cerr != nil {
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		return nil, cerr
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, bridgeerrors.Transient(err, "failed to read file body")
	}
	if int64(len(data)) > maxBytes {
		return nil, bridgeerrors.New(bridgeerrors.ErrCodeFileTransfer,
			fmt.Sprintf("file exceeds size limit of %d bytes", maxBytes))
	}
	return data, nil
}

// OpenSocketURL performs the Socket Mode handshake and returns the
// websocket URL. Uses the app-level token, not the bot token.
func (c *HTTPClient) OpenSocketURL(ctx context.Context) (string, error) {
	var resp types.ConnectionsOpenResponse
	if err := c.callForm(ctx, "apps.connections.open", c.appToken, url.Values{}, &resp); err != nil {
		return "", err
	}
	return resp.URL, nil
}

func (c *HTTPClient) AuthTest(ctx context.Context) (*types.AuthTestResponse, error) {
	var resp types.AuthTestResponse
	if err := c.callForm(ctx, "auth.test", c.botToken, url.Values{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type apiResult interface {
	Result() *types.APIResponse
}

func (c *HTTPClient) callJSON(ctx context.Context, method, token string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	return c.do(req, method, out)
}

func (c *HTTPClient) callForm(ctx context.Context, method, token string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method,
		strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	return c.do(req, method, out)
}

func (c *HTTPClient) do(req *http.Request, method string, out interface{}) error {
	resp, err := c.client.Do(req)
	if cerr := bridgeerrors.ClassifyHTTP(err, resp); cerr != nil {
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		return cerr
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return bridgeerrors.Malformed(err, "undecodable "+method+" response")
	}

	return c.checkAPIError(method, out)
}

// checkAPIError maps ok:false responses onto the error taxonomy. Slack
// signals rate limits both via HTTP 429 and via error=rate_limited.
func (c *HTTPClient) checkAPIError(method string, out interface{}) error {
	r, ok := out.(apiResult)
	if !ok {
		return nil
	}
	api := r.Result()
	if api.OK {
		return nil
	}

	c.logger.WithFields(logrus.Fields{
		"method": method,
		"error":  api.Error,
	}).Warn("Slack API call failed")

	switch api.Error {
	case "rate_limited", "ratelimited":
		return bridgeerrors.RateLimited(time.Second, fmt.Sprintf("%s: %s", method, api.Error))
	case "internal_error", "service_unavailable", "request_timeout":
		return bridgeerrors.Transient(nil, fmt.Sprintf("%s: %s", method, api.Error))
	}
	return bridgeerrors.New(bridgeerrors.ErrCodeSlackAPI, fmt.Sprintf("%s: %s", method, api.Error))
}
