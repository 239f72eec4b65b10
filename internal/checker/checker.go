package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bundleup/bundleup/internal/errs"
	"github.com/bundleup/bundleup/internal/logger"
	"github.com/bundleup/bundleup/internal/models"
	"github.com/bundleup/bundleup/internal/service"
	"github.com/bundleup/bundleup/internal/utils"
)

const checkPath = "/v1/update/check"

// Client asks the update server whether a newer bundle exists for this
// device. It is a pure collaborator: no local state is read or written.
type Client struct {
	serverURL string
	http      service.HTTPClient
}

func New(serverURL string, client service.HTTPClient) *Client {
	if client == nil {
		client = service.NewHTTPClient(30 * time.Second)
	}
	return &Client{serverURL: serverURL, http: client}
}

// Check posts the device identity and current label and returns the
// server's UpdateInfo, or nil when no update applies.
func (c *Client) Check(ctx context.Context, req models.CheckRequest) (*models.UpdateInfo, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+checkPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.NetworkError, err, "update check failed")
	}
	defer utils.Try(resp.Body.Close)

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.NetworkError, "update check returned status %d", resp.StatusCode)
	}

	var info models.UpdateInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, errs.Wrap(errs.NetworkError, err, "failed to decode update check response")
	}

	if !info.IsAvailable {
		logger.Debug("no update available for label %q", req.Label)
		return nil, nil
	}

	logger.Debug("update available: label=%s release=%s", info.Label, info.ReleaseID)
	return &info, nil
}
