// Package upload archives finalized recordings to S3-compatible storage
// and prunes old local files past their retention window.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wavecap/wavecap/internal/capture"
	"github.com/wavecap/wavecap/internal/eventlog"
	"github.com/wavecap/wavecap/internal/util"
)

const (
	uploadTimeout     = 5 * time.Minute
	maxUploadAttempts = 5
	queueCapacity     = 16
	keyPrefix         = "recordings"
	wavContentType    = "audio/wav"
)

// Settings carry the S3 connection parameters.
type Settings struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// EventSink receives upload events for the audit trail.
type EventSink interface {
	Log(sessionID, event string, fields map[string]any)
}

// s3API is the slice of the S3 client the archiver uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// newClient creates an S3 client with static credentials, honoring a
// custom endpoint for S3-compatible providers.
func newClient(settings Settings) *s3.Client {
	creds := credentials.NewStaticCredentialsProvider(
		settings.AccessKeyID,
		settings.SecretAccessKey,
		"",
	)

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = "auto"
		},
	}

	if settings.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(settings.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.New(s3.Options{}, options...)
}

// TestConnection uploads and deletes a probe object to verify the
// bucket is reachable with the given credentials.
func TestConnection(ctx context.Context, settings Settings) error {
	client := newClient(settings)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	testKey := fmt.Sprintf("test-connection-%d.txt", time.Now().UnixNano())
	testContent := []byte("wavecap connection test")

	_, err := client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(settings.Bucket),
		Key:           aws.String(testKey),
		Body:          bytes.NewReader(testContent),
		ContentLength: aws.Int64(int64(len(testContent))),
	})
	if err != nil {
		return fmt.Errorf("upload test file: %w", err)
	}

	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(settings.Bucket),
		Key:    aws.String(testKey),
	})
	if err != nil {
		slog.Warn("failed to delete test file", "key", testKey, "error", err)
	}

	return nil
}

// request represents one recording to archive.
type request struct {
	localPath string
	key       string
	size      int64
	sessionID string
}

// Archiver uploads recordings on a background worker. Enqueue never
// blocks the recording pipeline; a full queue drops the upload with a
// warning rather than stalling a session.
type Archiver struct {
	settings Settings
	client   s3API
	events   EventSink
	logger   *slog.Logger

	queue  chan request
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewArchiver creates an archiver for the given settings. Call Start to
// begin processing and Close to drain on shutdown.
func NewArchiver(settings Settings, events EventSink, logger *slog.Logger) *Archiver {
	a := newArchiverWithClient(settings, newClient(settings), events, logger)
	return a
}

func newArchiverWithClient(settings Settings, client s3API, events EventSink, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		settings: settings,
		client:   client,
		events:   events,
		logger:   logger,
		queue:    make(chan request, queueCapacity),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the upload worker.
func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.worker()
}

// Close stops the worker after draining queued uploads.
func (a *Archiver) Close() {
	close(a.stopCh)
	a.wg.Wait()
}

// Enqueue schedules a finalized recording for archival. Satisfies the
// recorder's uploader surface.
func (a *Archiver) Enqueue(file *capture.AudioFile) {
	key := objectKey(file)

	select {
	case a.queue <- request{
		localPath: file.Path,
		key:       key,
		size:      file.SizeBytes,
		sessionID: file.SessionID,
	}:
		a.logger.Info("Recording queued for archive", "session", file.SessionID, "key", key)
		a.logEvent(file.SessionID, eventlog.UploadQueued, map[string]any{"key": key})
	default:
		a.logger.Warn("Archive queue full, dropping upload", "session", file.SessionID)
	}
}

// objectKey derives the bucket key from the session, partitioned by day
// so archives stay browsable.
func objectKey(file *capture.AudioFile) string {
	now := time.Now().UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s",
		keyPrefix, now.Year(), now.Month(), now.Day(), filepath.Base(file.Path))
}

// worker processes the queue, draining remaining items on shutdown.
func (a *Archiver) worker() {
	defer a.wg.Done()

	for {
		select {
		case <-a.stopCh:
			for {
				select {
				case req := <-a.queue:
					a.upload(req)
				default:
					return
				}
			}
		case req := <-a.queue:
			a.upload(req)
		}
	}
}

// upload pushes one recording with bounded retries. The local file is
// kept either way; retention cleanup owns its removal.
func (a *Archiver) upload(req request) {
	backoff := util.NewBackoff(2*time.Second, time.Minute)

	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		lastErr = a.putObject(req)
		if lastErr == nil {
			a.logger.Info("Archive upload completed",
				"session", req.sessionID, "key", req.key, "attempt", attempt)
			a.logEvent(req.sessionID, eventlog.UploadCompleted, map[string]any{
				"key":      req.key,
				"attempts": attempt,
			})
			return
		}
		if errors.Is(lastErr, os.ErrNotExist) {
			a.logger.Warn("Recording vanished before upload", "session", req.sessionID, "path", req.localPath)
			return
		}

		a.logger.Error("Archive upload failed",
			"session", req.sessionID, "key", req.key, "attempt", attempt, "error", lastErr)

		select {
		case <-a.stopCh:
			// Shutting down; don't sit in backoff.
			attempt = maxUploadAttempts
		case <-time.After(backoff.Next()):
		}
	}

	a.logEvent(req.sessionID, eventlog.UploadFailed, map[string]any{
		"key":   req.key,
		"error": lastErr.Error(),
	})
}

func (a *Archiver) putObject(req request) error {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	file, err := os.Open(req.localPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := file.Close(); err != nil {
			a.logger.Warn("Failed to close file after upload", "path", req.localPath, "error", err)
		}
	}()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.settings.Bucket),
		Key:           aws.String(req.key),
		Body:          file,
		ContentLength: aws.Int64(req.size),
		ContentType:   aws.String(wavContentType),
	})
	return err
}

func (a *Archiver) logEvent(sessionID, event string, fields map[string]any) {
	if a.events != nil {
		a.events.Log(sessionID, event, fields)
	}
}
