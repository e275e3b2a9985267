package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("debug", "json", &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	cascadeLog := Component(log, "cascade")
	cascadeLog.Debug().Str("course_id", "c1").Msg("deleted")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["component"] != "cascade" || line["course_id"] != "c1" || line["level"] != "debug" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestNewLoggerRejectsBadInput(t *testing.T) {
	if _, err := NewLogger("loud", "json", nil); err == nil {
		t.Fatalf("expected bad level error")
	}
	if _, err := NewLogger("info", "xml", nil); err == nil {
		t.Fatalf("expected bad format error")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.ObserveCascade("course", "ok", 20*time.Millisecond)
	m.AddCascadeRows("results", 3)
	m.ObservePublish("ResultCreated", "ok", 120)
	m.SetDependencyUp("database", true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`coursework_cascade_deletes_total{outcome="ok",root="course"} 1`,
		`coursework_cascade_rows_deleted_total{collection="results"} 3`,
		`coursework_events_published_total{event_type="ResultCreated",outcome="ok"} 1`,
		`coursework_dependency_up{dependency="database"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCascade("course", "ok", time.Second)
	m.ObservePublish("ResultDeleted", "failed", 0)
	m.SetDependencyUp("broker", false)
}

func TestTracerProviderExporters(t *testing.T) {
	ctx := context.Background()
	provider, err := NewTracerProvider(ctx, "none", "")
	if err != nil {
		t.Fatalf("none exporter: %v", err)
	}
	_, span := provider.Tracer(TracerName).Start(ctx, "probe")
	span.End()
	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if _, err := NewTracerProvider(ctx, "zipkin", ""); err == nil {
		t.Fatalf("expected unsupported exporter error")
	}
}
