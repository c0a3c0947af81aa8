// Package filetransfer moves attachments across the bridge: the
// three-step external upload for Matrix→Slack, and bounded download
// plus media-repo upload for Slack→Matrix.
package filetransfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	bridgeerrors "slackmatrix/internal/errors"
	"slackmatrix/internal/metrics"
	"slackmatrix/internal/models"
)

// SlackFiles is the Slack side of a transfer.
type SlackFiles interface {
	GetUploadURL(ctx context.Context, filename string, size int64) (uploadURL, fileID string, err error)
	UploadToURL(ctx context.Context, uploadURL string, data io.Reader) error
	CompleteUpload(ctx context.Context, fileID, title, channelID, threadTS string) error
	DownloadFile(ctx context.Context, fileURL string, maxBytes int64) ([]byte, error)
}

// MatrixMedia is the Matrix media repository side of a transfer.
type MatrixMedia interface {
	UploadMedia(ctx context.Context, data []byte, mimeType, filename string) (string, error)
	DownloadMedia(ctx context.Context, mxcURI string) ([]byte, error)
}

// Coordinator owns attachment hand-offs. Upload sessions are
// process-local: a restart abandons in-flight sessions and the source
// event is retried from scratch.
type Coordinator struct {
	slack    SlackFiles
	matrix   MatrixMedia
	cfg      models.FilesConfig
	logger   *logrus.Logger
	registry *metrics.Registry

	maxAttempts int
}

func NewCoordinator(slack SlackFiles, matrix MatrixMedia, cfg models.FilesConfig, registry *metrics.Registry, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &Coordinator{
		slack:       slack,
		matrix:      matrix,
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		maxAttempts: 3,
	}
}

func (c *Coordinator) maxBytes() int64 {
	return int64(c.cfg.MaxSizeMB) << 20
}

// UploadToSlack transfers a Matrix attachment into a Slack channel.
// Step two streams to a one-time URL, so any retryable failure in the
// sequence restarts it from step one with a fresh handle; a stale URL
// is never retried in place.
func (c *Coordinator) UploadToSlack(ctx context.Context, att *models.Attachment, channelID, threadTS string) (string, error) {
	if att.Size > c.maxBytes() {
		return "", bridgeerrors.New(bridgeerrors.ErrCodeFileTransfer,
			fmt.Sprintf("attachment %s exceeds size limit", att.Name))
	}

	data, err := c.matrix.DownloadMedia(ctx, att.MatrixContentURI)
	if err != nil {
		return "", err
	}

	session := &models.PendingUpload{
		SlackChannelID: channelID,
		Filename:       att.Name,
		ExpectedSize:   int64(len(data)),
		State:          models.UploadStateRequested,
		StartedAt:      time.Now(),
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		uploadCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.UploadTimeoutSec)*time.Second)
		fileID, err := c.uploadOnce(uploadCtx, session, data, threadTS)
		cancel()
		if err == nil {
			c.registry.IncrementCounter(metrics.FilesTransferred, map[string]string{"direction": "matrix_to_slack"})
			return fileID, nil
		}

		lastErr = err
		session.State = models.UploadStateFailed
		if !bridgeerrors.IsRetryable(err) {
			return "", err
		}
		c.logger.WithError(err).WithFields(logrus.Fields{
			"filename": att.Name,
			"attempt":  attempt,
		}).Warn("Slack upload attempt failed, restarting sequence")
	}
	return "", bridgeerrors.Wrap(lastErr, bridgeerrors.ErrCodeFileTransfer,
		fmt.Sprintf("upload of %s failed after %d attempts", att.Name, c.maxAttempts))
}

// uploadOnce runs one full step-1→2→3 sequence on a fresh handle.
func (c *Coordinator) uploadOnce(ctx context.Context, session *models.PendingUpload, data []byte, threadTS string) (string, error) {
	uploadURL, fileID, err := c.slack.GetUploadURL(ctx, session.Filename, session.ExpectedSize)
	if err != nil {
		return "", err
	}
	session.FileID = fileID
	session.UploadURL = uploadURL
	session.State = models.UploadStateURLIssued

	if err := c.slack.UploadToURL(ctx, uploadURL, bytes.NewReader(data)); err != nil {
		return "", err
	}
	session.State = models.UploadStateUploaded

	if err := c.slack.CompleteUpload(ctx, fileID, session.Filename, session.SlackChannelID, threadTS); err != nil {
		return "", err
	}
	session.State = models.UploadStateCompleted
	return fileID, nil
}

// TransferToMatrix downloads a Slack file within the size and time
// bounds and uploads it to the Matrix media repo, returning the mxc
// URI to record on the message mapping.
func (c *Coordinator) TransferToMatrix(ctx context.Context, att *models.Attachment) (string, error) {
	if att.Size > c.maxBytes() {
		return "", bridgeerrors.New(bridgeerrors.ErrCodeFileTransfer,
			fmt.Sprintf("file %s exceeds size limit", att.Name))
	}

	downloadCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.DownloadTimeoutSec)*time.Second)
	defer cancel()
	data, err := c.slack.DownloadFile(downloadCtx, att.SlackDownloadURL, c.maxBytes())
	if err != nil {
		return "", err
	}

	uploadCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.UploadTimeoutSec)*time.Second)
	defer cancel()
	mxc, err := c.matrix.UploadMedia(uploadCtx, data, att.MimeType, att.Name)
	if err != nil {
		return "", err
	}

	c.registry.IncrementCounter(metrics.FilesTransferred, map[string]string{"direction": "slack_to_matrix"})
	return mxc, nil
}
