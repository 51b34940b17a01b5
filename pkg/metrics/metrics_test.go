package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFrame(t *testing.T) {
	framesTotal.Reset()

	RecordFrame(FrameSent)
	RecordFrame(FrameSent)
	RecordFrame(FrameDropped)

	if got := testutil.ToFloat64(framesTotal.WithLabelValues(FrameSent)); got != 2 {
		t.Errorf("Expected 2 sent frames, got %f", got)
	}
	if got := testutil.ToFloat64(framesTotal.WithLabelValues(FrameDropped)); got != 1 {
		t.Errorf("Expected 1 dropped frame, got %f", got)
	}
}

func TestRecordHandshakeAndEnd(t *testing.T) {
	sessionsActive.Set(0)
	handshakeDuration.Reset()

	RecordHandshake(StatusSuccess, 0.2)
	RecordHandshake(StatusError, 10)
	if got := testutil.ToFloat64(sessionsActive); got != 1 {
		t.Errorf("Expected 1 active session, got %f", got)
	}
	if n := testutil.CollectAndCount(handshakeDuration); n != 2 {
		t.Errorf("Expected 2 label series, got %d", n)
	}

	RecordSessionEnd()
	if got := testutil.ToFloat64(sessionsActive); got != 0 {
		t.Errorf("Expected 0 active sessions, got %f", got)
	}
}

func TestRecordBuffersScheduled(t *testing.T) {
	before := testutil.ToFloat64(buffersScheduled)
	RecordBuffersScheduled(0)
	RecordBuffersScheduled(3)
	if got := testutil.ToFloat64(buffersScheduled) - before; got != 3 {
		t.Errorf("Expected +3, got %f", got)
	}
}

func TestRecordErrorAndUnrecognized(t *testing.T) {
	sessionErrors.Reset()
	RecordError("model_unavailable")
	if got := testutil.ToFloat64(sessionErrors.WithLabelValues("model_unavailable")); got != 1 {
		t.Errorf("Expected 1, got %f", got)
	}

	before := testutil.ToFloat64(unrecognizedMessages)
	RecordUnrecognizedMessage()
	if got := testutil.ToFloat64(unrecognizedMessages) - before; got != 1 {
		t.Errorf("Expected +1, got %f", got)
	}
}

func TestExporterHandler(t *testing.T) {
	e := NewExporter(":0")
	RecordInterruption(SourceRemote)

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
		body, _ := io.ReadAll(rec.Body)
		if !strings.Contains(string(body), "livevoice_playback_interruptions_total") {
			t.Error("Expected interruption counter in output")
		}
	})

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
		if rec.Code != 200 || rec.Body.String() != "ok" {
			t.Errorf("Unexpected health response %d %q", rec.Code, rec.Body.String())
		}
	})
}
