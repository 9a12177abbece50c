package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mevdschee/shardexec/events"
)

func TestMetrics_Init(t *testing.T) {
	// Init should not panic when called multiple times.
	Init()
	Init()
}

func TestMetrics_Handler(t *testing.T) {
	Init()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	expectedMetrics := []string{
		"shardexec_execute_total",
		"shardexec_execute_unit_count",
		"shardexec_unit_total",
		"shardexec_connection_phase_total",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected metric %q not found in response", metric)
		}
	}
}

func TestSink_PublishUpdatesCounters(t *testing.T) {
	Init()
	sink := NewSink()

	sink.Publish(events.Event{Kind: events.Overall, Phase: events.Success, SqlType: events.DQL, UnitCount: 3})
	sink.Publish(events.Event{Kind: events.UnitDML, Phase: events.Failure, SqlType: events.DML, DataSourceID: "shard0"})

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `sql_type="DQL"`) {
		t.Error("expected sql_type=DQL label in output")
	}
	if !strings.Contains(body, `data_source="shard0"`) {
		t.Error("expected data_source=shard0 label in output")
	}
}
