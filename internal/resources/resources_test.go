package resources

import "testing"

func TestClassify_Bands(t *testing.T) {
	cases := []struct {
		rssMB, warningMB, limitMB float64
		want                      AlertLevel
	}{
		{rssMB: 10, warningMB: 100, limitMB: 200, want: AlertNormal},
		{rssMB: 100, warningMB: 100, limitMB: 200, want: AlertWarning},
		{rssMB: 170, warningMB: 100, limitMB: 200, want: AlertHigh}, // 0.85*200 = 170
		{rssMB: 200, warningMB: 100, limitMB: 200, want: AlertCritical},
		{rssMB: 250, warningMB: 100, limitMB: 200, want: AlertCritical},
	}
	for _, c := range cases {
		got := classify(c.rssMB, c.warningMB, c.limitMB)
		if got != c.want {
			t.Errorf("classify(%v, %v, %v) = %v, want %v", c.rssMB, c.warningMB, c.limitMB, got, c.want)
		}
	}
}

func TestNewMemoryMonitor_Check(t *testing.T) {
	m, err := NewMemoryMonitor(100, 10_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, metrics, err := m.Check()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metrics.RSSMB <= 0 {
		t.Errorf("expected a positive RSS reading, got %v", metrics.RSSMB)
	}
}

func TestCleanup_ReturnsNonNegative(t *testing.T) {
	if freed := Cleanup(); freed < 0 {
		t.Errorf("expected non-negative freed MB, got %v", freed)
	}
}

func TestNewCPUMonitor_BudgetIsPositive(t *testing.T) {
	m := NewCPUMonitor(80)
	if m.EffectiveCPUs() <= 0 {
		t.Errorf("expected positive effective CPU count, got %v", m.EffectiveCPUs())
	}
	if m.Budget() <= 0 {
		t.Errorf("expected positive budget, got %v", m.Budget())
	}
}

func TestCPUMonitor_ShouldThrottleDoesNotPanicOnFirstSample(t *testing.T) {
	m := NewCPUMonitor(80)
	_ = m.ShouldThrottle()
}
