// Package telemetry implements the scan-log sink the settlement pipeline
// posts fire-and-forget records to (spec §4.2 Telemetry, §9 "Telemetry
// coupling"). Grounded on the teacher's http/facilitator_client.go HTTP
// idiom, wired through a bounded channel per the design note: "a stalled
// sink cannot deadlock request handling."
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/aeonpay/x402evm/x402types"
)

// DefaultScanURL is the compiled-in default scan endpoint (spec §6), now a
// configuration value rather than a process-wide constant (spec §9).
const DefaultScanURL = "https://x402-scan-api.aeon.xyz/api/scan/manager/createTransaction"

// Sink posts ScanRecords to a scan endpoint from a single background
// goroutine, fed by a bounded channel so a stalled endpoint cannot block
// settlement.
type Sink struct {
	url        string
	httpClient *http.Client
	log        *slog.Logger
	records    chan x402types.ScanRecord
	done       chan struct{}
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.log = l }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.httpClient = c }
}

// WithBufferSize overrides the default channel capacity (64).
func WithBufferSize(n int) Option {
	return func(s *Sink) { s.records = make(chan x402types.ScanRecord, n) }
}

// NewSink starts a Sink posting to url. Call Close to drain and stop the
// background goroutine.
func NewSink(url string, opts ...Option) *Sink {
	s := &Sink{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        slog.Default(),
		records:    make(chan x402types.ScanRecord, 64),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Emit enqueues record for posting. A full buffer drops the record and logs
// a warning rather than blocking the caller (spec §5 "a full channel drops
// the record and logs a Warn rather than blocking settlement").
func (s *Sink) Emit(record x402types.ScanRecord) {
	select {
	case s.records <- record:
	default:
		s.log.Warn("scan sink buffer full, dropping record", "transaction", record.Transaction)
	}
}

// Close stops accepting new records and waits for the drain goroutine to
// exit once the buffer empties.
func (s *Sink) Close() {
	close(s.records)
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for record := range s.records {
		if err := s.post(record); err != nil {
			s.log.Warn("scan sink post failed", "error", err, "transaction", record.Transaction)
		}
	}
}

func (s *Sink) post(record x402types.ScanRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &statusError{status: resp.StatusCode}
	}
	return nil
}

type statusError struct{ status int }

func (e *statusError) Error() string {
	return "telemetry: scan sink returned non-2xx status " + http.StatusText(e.status)
}
