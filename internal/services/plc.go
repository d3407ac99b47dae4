package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/desertthunder/atx/internal/models"
	"github.com/desertthunder/atx/internal/shared"
)

const defaultPLCURL = "https://plc.directory"

// PLCDirectory reads DID audit logs from a PLC directory. Document resolution goes through [Resolver].
type PLCDirectory struct {
	baseURL    string
	httpClient *http.Client
}

// NewPLCDirectory creates a directory client. Empty baseURL uses the public directory.
func NewPLCDirectory(baseURL string, client *http.Client) *PLCDirectory {
	if baseURL == "" {
		baseURL = defaultPLCURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &PLCDirectory{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

// plcAuditEntry is one element of the /log/audit response.
type plcAuditEntry struct {
	DID       string       `json:"did"`
	CID       string       `json:"cid"`
	Nullified bool         `json:"nullified"`
	CreatedAt time.Time    `json:"createdAt"`
	Operation plcOperation `json:"operation"`
}

type plcOperation struct {
	Type     string                `json:"type"`
	Services map[string]plcService `json:"services"`
	// Service is set on legacy "create" operations.
	Service string `json:"service"`
}

type plcService struct {
	Type     string `json:"type"`
	Endpoint string `json:"endpoint"`
}

// endpoint returns the PDS assigned by the operation, if any.
func (op plcOperation) endpoint() string {
	if svc, ok := op.Services["atproto_pds"]; ok && svc.Endpoint != "" {
		return svc.Endpoint
	}
	return op.Service
}

func (p *PLCDirectory) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: plc directory: %w", shared.ErrResolution, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w: %s", shared.ErrResolution, shared.ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: plc directory returned status %d for %s", shared.ErrResolution, resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: failed to decode plc response: %w", shared.ErrResolution, err)
	}
	return nil
}

// FetchChangeLog returns the PDS assignments of did in log order.
//
// Nullified operations and operations that assign no PDS (tombstones, key-only rotations without services) are skipped.
func (p *PLCDirectory) FetchChangeLog(ctx context.Context, did string) ([]models.ChangeLogEntry, error) {
	var audit []plcAuditEntry
	if err := p.get(ctx, "/"+did+"/log/audit", &audit); err != nil {
		return nil, err
	}

	entries := make([]models.ChangeLogEntry, 0, len(audit))
	for _, a := range audit {
		if a.Nullified {
			continue
		}
		ep := a.Operation.endpoint()
		if ep == "" {
			continue
		}
		entries = append(entries, models.ChangeLogEntry{
			CID:       a.CID,
			Endpoint:  ep,
			CreatedAt: a.CreatedAt,
		})
	}
	return entries, nil
}
