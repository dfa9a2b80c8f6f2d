// Package upload implements the bounded, asynchronous cloud-upload
// subsystem of spec.md §4.8: a single-producer single-consumer queue of
// AlertEvents, multipart image + JSON alert POSTs with linear-backoff
// retry, a heartbeat worker, and a monitoring-snapshot worker.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/LeoAKALiu/deepstream-vehicle-detection/internal/model"
)

// Config mirrors spec.md §6's "cloud" config section.
type Config struct {
	Enabled             bool
	APIBaseURL          string
	APIKey              string
	RetryAttempts       int
	RetryDelay          time.Duration
	UploadInterval      time.Duration
	MaxImageSizeMB      int
	EnableImageUpload   bool
	EnableAlertUpload   bool
	SaveSnapshots       bool
	MonitoringSnapshotInterval time.Duration
	EnableMonitoringSnapshot   bool

	HealthTimeout    time.Duration
	AlertTimeout     time.Duration
	ImageTimeout     time.Duration
	HeartbeatTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RetryAttempts:              3,
		RetryDelay:                 2 * time.Second,
		UploadInterval:             1 * time.Second,
		MaxImageSizeMB:             10,
		EnableImageUpload:          true,
		EnableAlertUpload:          true,
		SaveSnapshots:              true,
		MonitoringSnapshotInterval: 600 * time.Second,
		EnableMonitoringSnapshot:   false,
		HealthTimeout:              5 * time.Second,
		AlertTimeout:               10 * time.Second,
		ImageTimeout:               30 * time.Second,
		HeartbeatTimeout:           10 * time.Second,
	}
}

// Client is the cloud HTTP API client (spec.md §6).
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, httpClient: &http.Client{}}
}

// Health reports whether the cloud endpoint is reachable.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+"/health", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-API-Key", c.cfg.APIKey)
}

// alertPayload is the JSON shape of spec.md §6's POST /api/alerts body.
// snapshotPath and imagePath are explicit *string so an absent value
// serialises as JSON null, never an omitted key (spec.md §4.8 contract).
type alertPayload struct {
	Timestamp       string         `json:"timestamp"`
	VehicleType     string         `json:"vehicle_type"`
	DetectedClass   string         `json:"detected_class"`
	Status          string         `json:"status"`
	IsRegistered    bool           `json:"is_registered"`
	TrackID         int64          `json:"track_id"`
	Box             *bboxPayload   `json:"bbox"`
	Confidence      float64        `json:"confidence"`
	Distance        float64        `json:"distance"`
	BeaconMac       string         `json:"beacon_mac,omitempty"`
	Company         string         `json:"company,omitempty"`
	EnvironmentCode string         `json:"environment_code,omitempty"`
	PlateNumber     string         `json:"plate_number,omitempty"`
	SnapshotURL     *string        `json:"snapshot_url,omitempty"`
	SnapshotPath    *string        `json:"snapshot_path"`
	ImagePath       *string        `json:"image_path"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

type bboxPayload struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

type alertResponse struct {
	ID int64 `json:"id"`
}

// PostAlert uploads event's metadata fields to POST /api/alerts and returns
// the cloud-assigned alert id.
func (c *Client) PostAlert(ctx context.Context, event model.AlertEvent) (int64, error) {
	payload := alertPayload{
		Timestamp:       event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z"),
		VehicleType:     string(event.VehicleType),
		DetectedClass:   event.DetectedClass,
		Status:          string(event.Status),
		IsRegistered:    event.Registered,
		TrackID:         coerceInt64(event.TrackID),
		Confidence:      event.Confidence,
		Distance:        event.Distance,
		BeaconMac:       event.BeaconMac,
		Company:         event.Owner,
		EnvironmentCode: event.EnvironmentCode,
		PlateNumber:     event.Plate,
		Metadata:        event.Metadata,
		SnapshotPath:    nil,
		ImagePath:       nil,
	}
	if event.Box != nil {
		payload.Box = &bboxPayload{X1: event.Box[0], Y1: event.Box[1], X2: event.Box[2], Y2: event.Box[3]}
	}
	if event.SnapshotURL != "" {
		url := event.SnapshotURL
		payload.SnapshotURL = &url
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, errors.Wrap(err, "marshal alert payload")
	}

	var result alertResponse
	if err := c.postJSON(ctx, "/api/alerts", body, c.cfg.AlertTimeout, &result); err != nil {
		return 0, err
	}
	return result.ID, nil
}

// coerceInt64 guards against spec.md §9's "numeric widening" note: whatever
// integer-ish type flows in, the wire payload always carries a plain int64.
func coerceInt64(v int64) int64 {
	return v
}

type imageResponse struct {
	Path string `json:"path"`
}

// PostImage uploads image bytes to POST /api/images, optionally binding it
// to alertID, and returns the relative path the server assigns.
func (c *Client) PostImage(ctx context.Context, image []byte, filename string, alertID int64, imageType string, deviceID string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", errors.Wrap(err, "create multipart field")
	}
	if _, err := part.Write(image); err != nil {
		return "", errors.Wrap(err, "write multipart body")
	}
	if alertID > 0 {
		_ = writer.WriteField("alert_id", fmt.Sprintf("%d", alertID))
	}
	if imageType != "" {
		_ = writer.WriteField("image_type", imageType)
	}
	if deviceID != "" {
		_ = writer.WriteField("device_id", deviceID)
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "close multipart writer")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ImageTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+"/api/images", &buf)
	if err != nil {
		return "", errors.Wrap(err, "build image request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "post image")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", errors.Errorf("post image: unexpected status %d", resp.StatusCode)
	}
	var result imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "decode image response")
	}
	return result.Path, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, timeout time.Duration, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "build request for %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %s", path)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("post %s: unexpected status %d", path, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode response from %s", path)
	}
	return nil
}

// PostHeartbeat uploads system metrics and caller-supplied stats to
// POST /api/heartbeat.
func (c *Client) PostHeartbeat(ctx context.Context, deviceID string, systemStatus, stats map[string]any) error {
	payload := map[string]any{
		"timestamp":     time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		"device_id":     deviceID,
		"system_status": systemStatus,
		"stats":         stats,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal heartbeat payload")
	}
	return c.postJSON(ctx, "/api/heartbeat", body, c.cfg.HeartbeatTimeout, nil)
}

// GetWhitelist fetches GET /api/beacons.
func (c *Client) GetWhitelist(ctx context.Context) ([]model.WhitelistEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AlertTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.APIBaseURL+"/api/beacons", nil)
	if err != nil {
		return nil, errors.Wrap(err, "build whitelist request")
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "get whitelist")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errors.Errorf("get whitelist: unexpected status %d", resp.StatusCode)
	}
	var raw []struct {
		ID               int64   `json:"id"`
		BeaconNumber     string  `json:"beacon_number"`
		Mac              string  `json:"mac_address"`
		MachineType      string  `json:"machine_type"`
		EnvironmentCode  string  `json:"environment_code"`
		RegistrationDate string  `json:"registration_date"`
		EquipmentOwner   *string `json:"equipment_owner"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "decode whitelist response")
	}
	out := make([]model.WhitelistEntry, 0, len(raw))
	for _, r := range raw {
		entry, err := normalizeWhitelistEntry(r.ID, r.BeaconNumber, r.Mac, r.MachineType, r.EnvironmentCode, r.RegistrationDate, r.EquipmentOwner)
		if err != nil {
			continue // MalformedWhitelist: individual bad entries skipped (spec.md §7)
		}
		out = append(out, entry)
	}
	return out, nil
}

func normalizeWhitelistEntry(id int64, beaconNumber, mac, machineType, environmentCode, registrationDate string, owner *string) (model.WhitelistEntry, error) {
	canonical, err := model.NormalizeMac(mac)
	if err != nil {
		return model.WhitelistEntry{}, err
	}
	regDate, err := time.Parse(time.RFC3339, registrationDate)
	if err != nil {
		regDate, err = time.Parse("2006-01-02", registrationDate)
		if err != nil {
			return model.WhitelistEntry{}, errors.Wrap(err, "parse registration_date")
		}
	}
	ownerStr := ""
	if owner != nil {
		ownerStr = *owner
	}
	return model.WhitelistEntry{
		ID:               id,
		BeaconNumber:     beaconNumber,
		Mac:              canonical,
		MachineType:      machineType,
		EnvironmentCode:  environmentCode,
		RegistrationDate: regDate,
		EquipmentOwner:   ownerStr,
	}, nil
}
