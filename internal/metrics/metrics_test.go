package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded("sentinel")
	m.CellsEaten(3)
	m.Broadcast(5, 1)
	m.Handshake("E_NAME_TAKEN")

	mfs := gather(t, reg)
	if v := mfs["cellarena_sessions_active"].GetMetric()[0].GetGauge().GetValue(); v != 1 {
		t.Fatalf("sessions_active=%v want 1", v)
	}
	if v := mfs["cellarena_cells_eaten_total"].GetMetric()[0].GetCounter().GetValue(); v != 3 {
		t.Fatalf("cells_eaten_total=%v want 3", v)
	}
	if v := mfs["cellarena_broadcast_drops_total"].GetMetric()[0].GetCounter().GetValue(); v != 1 {
		t.Fatalf("broadcast_drops_total=%v want 1", v)
	}
	dis := mfs["cellarena_disconnects_total"].GetMetric()[0]
	if dis.GetLabel()[0].GetValue() != "sentinel" || dis.GetCounter().GetValue() != 1 {
		t.Fatalf("disconnects=%v", dis)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.SessionStarted()
	m.SessionEnded("x")
	m.Frame()
	m.CellsEaten(1)
	m.Elimination()
	m.Broadcast(1, 1)
	m.AcceptLimited()
	m.ObserverDelta(1)
	m.Handshake("ok")
}

func TestWorldGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	WorldGauges(reg, func() int { return 4 }, func() int { return 3 })
	mfs := gather(t, reg)
	if v := mfs["cellarena_players"].GetMetric()[0].GetGauge().GetValue(); v != 4 {
		t.Fatalf("players=%v", v)
	}
	if v := mfs["cellarena_connections"].GetMetric()[0].GetGauge().GetValue(); v != 3 {
		t.Fatalf("connections=%v", v)
	}
}
