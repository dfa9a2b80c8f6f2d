package upload

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.viam.com/rdk/logging"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

type fakeStore struct {
	mu       sync.Mutex
	uploaded map[int64]int64
	retries  map[int64]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploaded: make(map[int64]int64), retries: make(map[int64]int)}
}

func (s *fakeStore) MarkUploaded(ctx context.Context, eventID int64, cloudAlertID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[eventID] = cloudAlertID
	return nil
}

func (s *fakeStore) IncrementRetry(ctx context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries[eventID]++
	return nil
}

// TestUploadRetryThenSuccess directly implements spec.md §8 end-to-end
// scenario 5: a first /api/images attempt fails, the second succeeds, the
// alert POST succeeds with a numeric id, and a follow-up image POST binds
// the returned alert_id.
func TestUploadRetryThenSuccess(t *testing.T) {
	var imageCalls int
	var alertBody []byte
	var secondImageAlertID string

	mux := http.NewServeMux()
	mux.HandleFunc("/api/images", func(w http.ResponseWriter, r *http.Request) {
		imageCalls++
		if imageCalls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = r.ParseMultipartForm(10 << 20)
		if id := r.FormValue("alert_id"); id != "" {
			secondImageAlertID = id
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"path": "2025-01-04/snap.jpg"})
	})
	mux.HandleFunc("/api/alerts", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		alertBody = body
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int64{"id": 4711})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	dir := t.TempDir()
	snapPath := dir + "/snapshot_20250104_120000_1.jpg"
	require.NoError(t, os.WriteFile(snapPath, []byte("fake-jpeg-bytes"), 0o644))

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.APIBaseURL = server.URL
	cfg.RetryAttempts = 2
	cfg.RetryDelay = 10 * time.Millisecond
	client := NewClient(cfg)

	store := newFakeStore()
	up := NewUploader(cfg, client, store, logging.NewTestLogger(t), "device-1")

	event := model.AlertEvent{
		ID:            1,
		Timestamp:     time.Now(),
		VehicleType:   model.VehicleTypeSocial,
		DetectedClass: "car",
		Status:        model.StatusIdentified,
		TrackID:       1,
		SnapshotPath:  snapPath,
	}

	up.process(context.Background(), event)

	require.GreaterOrEqual(t, imageCalls, 2)
	require.Contains(t, string(alertBody), `"timestamp"`)
	require.True(t, strings.Contains(extractTimestamp(alertBody), "Z"))
	require.Contains(t, string(alertBody), `"snapshot_path":null`)
	require.Contains(t, string(alertBody), `"image_path":null`)
	require.NotContains(t, string(alertBody), `"track_id":1.0`)

	store.mu.Lock()
	cloudID, ok := store.uploaded[1]
	store.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, int64(4711), cloudID)
	require.Equal(t, "4711", secondImageAlertID)
}

// TestProcessDisabledNeverCallsCloud covers config wiring: cloud.enabled
// false must skip every network call, not just leave the uploader idle.
func TestProcessDisabledNeverCallsCloud(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { calls++ })
	server := httptest.NewServer(mux)
	defer server.Close()

	cfg := DefaultConfig()
	cfg.APIBaseURL = server.URL
	client := NewClient(cfg)
	store := newFakeStore()
	up := NewUploader(cfg, client, store, logging.NewTestLogger(t), "device-1")

	up.process(context.Background(), model.AlertEvent{ID: 1, TrackID: 1})

	require.Zero(t, calls, "cloud.enabled=false must not reach the network at all")
	store.mu.Lock()
	_, uploaded := store.uploaded[1]
	store.mu.Unlock()
	require.False(t, uploaded)
}

func TestEnqueueDropsNewestWhenFull(t *testing.T) {
	cfg := DefaultConfig()
	client := NewClient(cfg)
	up := NewUploader(cfg, client, nil, logging.NewTestLogger(t), "device-1")

	accepted := 0
	for i := 0; i < 105; i++ {
		if up.Enqueue(model.AlertEvent{ID: int64(i)}) {
			accepted++
		}
	}
	require.Equal(t, 100, accepted)
}

func extractTimestamp(body []byte) string {
	idx := strings.Index(string(body), `"timestamp":"`)
	if idx < 0 {
		return ""
	}
	rest := string(body)[idx+len(`"timestamp":"`):]
	end := strings.Index(rest, `"`)
	return rest[:end]
}
