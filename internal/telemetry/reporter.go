// Package telemetry is a fire-and-forget side channel: at-most-once,
// no delivery guarantee, and its failures must never reach the update
// state machine's control flow.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bundleup/bundleup/internal/logger"
	"github.com/bundleup/bundleup/internal/service"
	"github.com/bundleup/bundleup/internal/utils"
	"github.com/google/uuid"
)

type Event struct {
	EventID   string `json:"eventId"`
	DeviceID  string `json:"deviceId"`
	ReleaseID string `json:"releaseId,omitempty"`
	Label     string `json:"label,omitempty"`
	Stage     string `json:"stage,omitempty"`   // errors only
	Message   string `json:"message,omitempty"` // errors only
}

type Reporter interface {
	DownloadStart(ctx context.Context, ev Event)
	InstallComplete(ctx context.Context, ev Event)
	ReportError(ctx context.Context, ev Event)
}

// reportBudget bounds how long a telemetry post may stall the caller.
const reportBudget = 5 * time.Second

type HTTPReporter struct {
	client   service.HTTPClient
	baseURL  string
	deviceID string
}

func NewHTTPReporter(client service.HTTPClient, baseURL, deviceID string) *HTTPReporter {
	if client == nil {
		client = service.NewHTTPClient(reportBudget)
	}
	return &HTTPReporter{client: client, baseURL: baseURL, deviceID: deviceID}
}

func (r *HTTPReporter) DownloadStart(ctx context.Context, ev Event) {
	r.post(ctx, "/v1/report/download", ev)
}

func (r *HTTPReporter) InstallComplete(ctx context.Context, ev Event) {
	r.post(ctx, "/v1/report/installed", ev)
}

func (r *HTTPReporter) ReportError(ctx context.Context, ev Event) {
	r.post(ctx, "/v1/report/error", ev)
}

func (r *HTTPReporter) post(ctx context.Context, path string, ev Event) {
	if r.baseURL == "" {
		return
	}
	ev.EventID = uuid.NewString()
	if ev.DeviceID == "" {
		ev.DeviceID = r.deviceID
	}

	body, err := json.Marshal(ev)
	if err != nil {
		logger.Debug("telemetry marshal failed: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, reportBudget)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		logger.Debug("telemetry request failed: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		logger.Debug("telemetry post %s failed: %v", path, err)
		return
	}
	defer utils.Try(resp.Body.Close)
}

// Nop discards every event. Used when telemetry is disabled and in tests.
type Nop struct{}

func (Nop) DownloadStart(context.Context, Event)   {}
func (Nop) InstallComplete(context.Context, Event) {}
func (Nop) ReportError(context.Context, Event)     {}
