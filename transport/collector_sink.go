package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-appstore-connect/core"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const defaultCollectorClientTimeout = 30 * time.Second
const defaultCollectorTimeout = 5 * time.Second
const collectorResponseBodyLimit int64 = 1 << 20
const maxCollectorErrorSnippet = 256

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// CollectorSink posts a JSON copy of every persisted record to an external
// inspection endpoint. It runs as a fan-out copy next to the store-backed
// sink: delivery is a single bounded attempt, the replay command is the
// repair path when the collector was unavailable.
type CollectorSink struct {
	endpoint string
	client   HTTPDoer
	timeout  time.Duration
	logger   core.Logger
}

func NewCollectorSink(cfg core.CollectorConfig, client HTTPDoer, logger core.Logger) (*CollectorSink, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, transportError(
			"transport: collector endpoint is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"sink": "collector"},
		)
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, transportError(
			"transport: collector endpoint must be an absolute url",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			map[string]any{"sink": "collector", "endpoint": endpoint},
		)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultCollectorClientTimeout}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCollectorTimeout
	}
	return &CollectorSink{
		endpoint: parsed.String(),
		client:   client,
		timeout:  timeout,
		logger:   glog.Ensure(logger),
	}, nil
}

func (s *CollectorSink) SaveInstallation(ctx context.Context, record core.PersistedRecord) error {
	if s == nil || s.client == nil {
		return transportError(
			"transport: collector sink requires an http client",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"sink": "collector"},
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := json.Marshal(record)
	if err != nil {
		return transportWrapError(
			err,
			goerrors.CategoryInternal,
			"transport: encode record copy",
			http.StatusInternalServerError,
			map[string]any{"sink": "collector", "vendor_id": record.VendorID},
		)
	}

	requestCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(requestCtx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create collector request",
			http.StatusBadRequest,
			map[string]any{"sink": "collector", "vendor_id": record.VendorID},
		)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	startedAt := time.Now().UTC()
	res, err := s.client.Do(req)
	if err != nil {
		return transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: deliver record copy",
			http.StatusBadGateway,
			map[string]any{"sink": "collector", "vendor_id": record.VendorID},
		)
	}
	defer res.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(res.Body, collectorResponseBodyLimit))
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return transportError(
			fmt.Sprintf("transport: collector rejected record copy: status %d", res.StatusCode),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{
				"sink":        "collector",
				"vendor_id":   record.VendorID,
				"status_code": res.StatusCode,
				"response":    collectorSnippet(snippet),
			},
		)
	}

	s.logDelivered(ctx, record, res.StatusCode, time.Since(startedAt))
	return nil
}

func (s *CollectorSink) logDelivered(ctx context.Context, record core.PersistedRecord, status int, elapsed time.Duration) {
	if s.logger == nil {
		return
	}
	fields := map[string]any{
		"event_type":  "record_copy",
		"vendor_id":   record.VendorID,
		"domain":      record.Domain,
		"status_code": status,
		"duration_ms": elapsed.Milliseconds(),
	}
	logger := s.logger.WithContext(ctx)
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	logger.Debug("record copy delivered", logFields(fields)...)
}

func collectorSnippet(body []byte) string {
	snippet := strings.Join(strings.Fields(strings.TrimSpace(string(body))), " ")
	if len(snippet) > maxCollectorErrorSnippet {
		snippet = snippet[:maxCollectorErrorSnippet]
	}
	return snippet
}

var _ core.RecordSink = (*CollectorSink)(nil)
