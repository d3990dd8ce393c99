package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector("testfs")
	c.Read(0, 100)
	c.Read(4096, 50)
	c.Write(0, 16)
	c.Erase(0, 4096)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`testfs_device_operations_total{op="read"} 2`,
		`testfs_device_operations_total{op="write"} 1`,
		`testfs_device_operations_total{op="erase"} 1`,
		`testfs_device_bytes_total{op="read"} 150`,
		`testfs_device_bytes_total{op="erase"} 4096`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestCollectorDefaultNamespace(t *testing.T) {
	c := NewCollector("")
	c.Read(0, 1)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "flashfs_device_operations_total") {
		t.Error("default namespace not applied")
	}
}

func TestWearProfiler(t *testing.T) {
	w := NewWearProfiler(4096)
	w.Erase(0, 4096)
	w.Erase(0, 4096)
	w.Erase(8192, 4096)
	// A multi-block erase counts each covered block once.
	w.Erase(4096, 8192)

	if got := w.EraseCount(0); got != 2 {
		t.Errorf("EraseCount(0) = %d, want 2", got)
	}
	if got := w.EraseCount(1); got != 1 {
		t.Errorf("EraseCount(1) = %d, want 1", got)
	}
	if got := w.EraseCount(2); got != 2 {
		t.Errorf("EraseCount(2) = %d, want 2", got)
	}
	if got := w.TotalErases(); got != 5 {
		t.Errorf("TotalErases() = %d, want 5", got)
	}

	var report strings.Builder
	w.Read(0, 16)
	w.Write(0, 16)
	w.Report(&report)
	out := report.String()
	if !strings.Contains(out, "reads=1 writes=1 erases=5") {
		t.Errorf("report summary wrong:\n%s", out)
	}
	// Worst block first.
	if !strings.Contains(out, "block    0: 2 erases") && !strings.Contains(out, "block    2: 2 erases") {
		t.Errorf("report missing per-block lines:\n%s", out)
	}
}
