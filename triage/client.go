// Package triage asks the triage service to pick a new vendor for a
// maintenance request after its work order was handed back.
package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"repairflow/logger"
)

type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

func NewClient(baseURL string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

type retriageRequest struct {
	MaintenanceRequestID string `json:"maintenanceRequestId"`
	WorkOrderID          string `json:"workOrderId,omitempty"`
	ExcludeVendorID      string `json:"excludeVendorId,omitempty"`
}

// Retriage re-runs vendor selection for the maintenance request. The
// declining vendor, when known, is excluded.
func (c *Client) Retriage(ctx context.Context, maintenanceRequestID, workOrderID, excludeVendorID string) error {
	if maintenanceRequestID == "" {
		return fmt.Errorf("triage: empty maintenance request id")
	}
	if c.baseURL == "" {
		c.log.WithContext(ctx).Info("triage service not configured, retriage skipped", "maintenance_request_id", maintenanceRequestID)
		return nil
	}

	body, err := json.Marshal(retriageRequest{
		MaintenanceRequestID: maintenanceRequestID,
		WorkOrderID:          workOrderID,
		ExcludeVendorID:      excludeVendorID,
	})
	if err != nil {
		return fmt.Errorf("triage: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/maintenance-requests/%s/triage", c.baseURL, maintenanceRequestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("triage: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("triage: request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("triage: service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	c.log.WithContext(ctx).Info("retriage requested", "maintenance_request_id", maintenanceRequestID, "work_order_id", workOrderID)
	return nil
}
