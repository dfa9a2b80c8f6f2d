package upload

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"time"

	"golang.org/x/time/rate"

	viamutils "go.viam.com/utils"

	"go.viam.com/rdk/logging"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

// Store is the persistence hook the Uploader reports results back through
// (spec.md §4.10): it records the cloud alert id on success and counts
// exhausted retry budgets. Nothing re-sends unsent events after a restart.
type Store interface {
	MarkUploaded(ctx context.Context, eventID int64, cloudAlertID int64) error
	IncrementRetry(ctx context.Context, eventID int64) error
}

// Uploader is the single-producer single-consumer bounded-queue worker of
// spec.md §4.8. Enqueue never blocks; the queue drops the newest event on
// overflow (spec.md §3 invariant).
type Uploader struct {
	cfg      Config
	client   *Client
	store    Store
	logger   logging.Logger
	deviceID string

	queue   chan model.AlertEvent
	dropped int64
	limiter *rate.Limiter
}

// NewUploader builds an Uploader with the bounded queue capacity spec.md
// §4.8 fixes at 100. The consume loop is paced to at most one event per
// cfg.UploadInterval via a token-bucket limiter, so a burst of admitted
// alerts drains at the configured cloud.upload_interval rather than as
// fast as the retry loop allows.
func NewUploader(cfg Config, client *Client, store Store, logger logging.Logger, deviceID string) *Uploader {
	interval := cfg.UploadInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Uploader{
		cfg:      cfg,
		client:   client,
		store:    store,
		logger:   logger,
		deviceID: deviceID,
		queue:    make(chan model.AlertEvent, 100),
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Enqueue submits event for upload. It returns false if the queue was full
// and the event was dropped (logged, spec.md §4.8 "newest-drop on full").
func (u *Uploader) Enqueue(event model.AlertEvent) bool {
	select {
	case u.queue <- event:
		return true
	default:
		u.dropped++
		if u.logger != nil {
			u.logger.Warnw("upload queue full, dropping newest event", "track_id", event.TrackID, "dropped_total", u.dropped)
		}
		return false
	}
}

// Run drains the queue until ctx is cancelled, processing one event at a
// time (spec.md §5: "single worker thread").
func (u *Uploader) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-u.queue:
			if !ok {
				return
			}
			if err := u.limiter.Wait(ctx); err != nil {
				return
			}
			u.process(ctx, event)
		}
	}
}

// Start launches Run under a teacher-style ManagedGo goroutine.
func (u *Uploader) Start(ctx context.Context) {
	viamutils.ManagedGo(func() { u.Run(ctx) }, func() {})
}

func (u *Uploader) process(ctx context.Context, event model.AlertEvent) {
	if !u.cfg.Enabled {
		return
	}

	snapshotURL := ""
	if u.cfg.EnableImageUpload && event.SnapshotPath != "" {
		if data, err := os.ReadFile(event.SnapshotPath); err == nil {
			path, err := u.retryImage(ctx, data, event.SnapshotPath, 0, "", u.deviceID)
			if err != nil {
				u.logger.Warnw("image upload failed after retries", "err", err, "track_id", event.TrackID)
			} else {
				snapshotURL = path
			}
		} else {
			u.logger.Warnw("snapshot file missing", "path", event.SnapshotPath, "err", err)
		}
	}
	event.SnapshotURL = snapshotURL

	if !u.cfg.EnableAlertUpload {
		return
	}

	alertID, err := u.retryAlert(ctx, event)
	if err != nil {
		u.logger.Warnw("alert upload failed after retries", "err", err, "track_id", event.TrackID)
		if u.store != nil {
			_ = u.store.IncrementRetry(ctx, event.ID)
		}
		return
	}
	event.CloudAlertID = alertID
	event.Uploaded = true

	if u.cfg.EnableImageUpload && snapshotURL != "" && alertID > 0 {
		if data, err := os.ReadFile(event.SnapshotPath); err == nil {
			_, _ = u.retryImage(ctx, data, event.SnapshotPath, alertID, "", u.deviceID)
		}
	}

	if u.store != nil {
		_ = u.store.MarkUploaded(ctx, event.ID, alertID)
	}
}

func (u *Uploader) retryAlert(ctx context.Context, event model.AlertEvent) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= u.cfg.RetryAttempts; attempt++ {
		id, err := u.client.PostAlert(ctx, event)
		if err == nil {
			return id, nil
		}
		lastErr = err
		if attempt < u.cfg.RetryAttempts {
			u.sleep(ctx, u.cfg.RetryDelay*time.Duration(attempt+1))
		}
	}
	return 0, lastErr
}

func (u *Uploader) retryImage(ctx context.Context, data []byte, filename string, alertID int64, imageType, deviceID string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= u.cfg.RetryAttempts; attempt++ {
		path, err := u.client.PostImage(ctx, data, filename, alertID, imageType, deviceID)
		if err == nil {
			return path, nil
		}
		lastErr = err
		if attempt < u.cfg.RetryAttempts {
			u.sleep(ctx, u.cfg.RetryDelay*time.Duration(attempt+1))
		}
	}
	return "", lastErr
}

func (u *Uploader) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// EncodeSnapshotJPEG is the monitoring-snapshot worker's helper to encode a
// frame at the event-snapshot quality (spec.md §9 open question: this
// implementation uses the same compressor and quality for monitoring
// snapshots as for event snapshots; Config.MaxImageSizeMB is not applied to
// either).
func EncodeSnapshotJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
