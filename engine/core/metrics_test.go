package core

import "testing"

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.010)
	}
	if avg := m.AverageMS(); avg < 9.99 || avg > 10.01 {
		t.Errorf("expected 10ms average, got %f", avg)
	}
}

func TestFrameMetricsTicksPerSecond(t *testing.T) {
	m := NewFrameMetrics()
	// 101 ticks of 10ms crosses the one second boundary once
	for i := 0; i < 101; i++ {
		m.Update(0.010)
	}
	if tps := m.TicksPerSecond(); tps != 100 {
		t.Errorf("expected 100 ticks per second, got %f", tps)
	}
}
