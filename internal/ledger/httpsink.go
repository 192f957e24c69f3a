package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrDisabled is returned by the disabled sink's reads. The quota guard
// treats it like any other read failure and fails open.
var ErrDisabled = errors.New("usage ledger disabled")

// Disabled is the sink used when no ledger is configured. Writes vanish,
// reads fail so the guard falls back to default limits.
type Disabled struct{}

func (Disabled) ReadQuota(context.Context, string, string) (QuotaRecord, error) {
	return QuotaRecord{}, ErrDisabled
}
func (Disabled) AppendUsage(context.Context, UsageEvent) error  { return nil }
func (Disabled) AppendErrorLog(context.Context, ErrorLog) error { return nil }

// HTTPSinkConfig controls the REST sink.
type HTTPSinkConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPSink talks to the external usage-ledger service over REST.
type HTTPSink struct {
	cfg  HTTPSinkConfig
	http *http.Client
}

// NewHTTPSink constructs a sink. The base URL is required.
func NewHTTPSink(cfg HTTPSinkConfig) (*HTTPSink, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("ledger base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HTTPSink{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

type quotaRow struct {
	Used        int       `json:"used"`
	Limit       int       `json:"limit"`
	PeriodStart time.Time `json:"periodStart"`
}

func (s *HTTPSink) ReadQuota(ctx context.Context, tenantID, metric string) (QuotaRecord, error) {
	var row quotaRow
	path := fmt.Sprintf("/tenants/%s/quota/%s", tenantID, metric)
	if err := s.do(ctx, http.MethodGet, path, nil, &row); err != nil {
		return QuotaRecord{}, err
	}
	return QuotaRecord{
		TenantID:    tenantID,
		Metric:      metric,
		PeriodStart: row.PeriodStart,
		Used:        row.Used,
		Limit:       row.Limit,
	}, nil
}

func (s *HTTPSink) AppendUsage(ctx context.Context, event UsageEvent) error {
	return s.do(ctx, http.MethodPost, "/usage", map[string]any{
		"tenantId":  event.TenantID,
		"eventType": event.EventType,
		"eventData": event.EventData,
		"timestamp": event.Timestamp,
	}, nil)
}

func (s *HTTPSink) AppendErrorLog(ctx context.Context, entry ErrorLog) error {
	return s.do(ctx, http.MethodPost, "/errors", map[string]any{
		"tenantId":     entry.TenantID,
		"errorType":    entry.ErrorType,
		"errorMessage": entry.ErrorMessage,
		"requestPath":  entry.RequestPath,
		"userAgent":    entry.UserAgent,
		"ipAddress":    entry.IPAddress,
		"timestamp":    entry.Timestamp,
	}, nil)
}

func (s *HTTPSink) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode ledger body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build ledger request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sample, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("ledger %s %s: status %d: %s", method, path, resp.StatusCode, sample)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode ledger response: %w", err)
		}
	}
	return nil
}
