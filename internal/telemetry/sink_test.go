package telemetry

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aeonpay/x402evm/x402types"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSinkPostsEmittedRecords(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewSink(server.URL, WithLogger(testLogger()))
	sink.Emit(x402types.ScanRecord{Transaction: "0xtx1"})
	sink.Close()

	assert.Equal(t, int32(1), received.Load())
}

func TestSinkDropsRecordsWhenBufferFull(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewSink(server.URL, WithLogger(testLogger()), WithBufferSize(1))

	// First record occupies the single background worker; the rest overflow
	// the size-1 buffer and must be dropped rather than block Emit.
	sink.Emit(x402types.ScanRecord{Transaction: "0xtx1"})
	for i := 0; i < 10; i++ {
		sink.Emit(x402types.ScanRecord{Transaction: "0xoverflow"})
	}

	close(blocked)
	sink.Close()
}

func TestSinkTreatsNon2xxAsFailureWithoutPanicking(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink := NewSink(server.URL, WithLogger(testLogger()))
	sink.Emit(x402types.ScanRecord{Transaction: "0xtx-failing"})
	sink.Close()

	// Close returning (rather than hanging) confirms a non-2xx response is
	// logged and swallowed, not retried indefinitely.
	time.Sleep(10 * time.Millisecond)
}
