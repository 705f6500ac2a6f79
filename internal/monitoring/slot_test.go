package monitoring

import "testing"

func TestGaugeSetAndAdd(t *testing.T) {
	g := NewGauge()
	g.Set(5)
	g.Add(2)
	if g.Value() != 7 {
		t.Fatalf("expected 7, got %v", g.Value())
	}
	g.Reset()
	if g.Value() != 0 {
		t.Fatalf("expected reset to 0, got %v", g.Value())
	}
}

func TestPercentRejectsOutOfRange(t *testing.T) {
	p := NewPercent()
	if p.Set(1.5) {
		t.Fatal("expected out-of-range set to fail")
	}
	if !p.Set(0.5) {
		t.Fatal("expected in-range set to succeed")
	}
	if p.Value() != 0.5 {
		t.Fatalf("expected 0.5, got %v", p.Value())
	}
}

func TestRateTickMovesWindow(t *testing.T) {
	r := NewRate()
	r.Add(3)
	r.Add(4)
	if r.AccumulatedValue() != 7 {
		t.Fatalf("expected accumulated 7, got %v", r.AccumulatedValue())
	}
	if r.Value() != 0 {
		t.Fatalf("expected no completed window yet, got %v", r.Value())
	}
	r.tick()
	if r.Value() != 7 {
		t.Fatalf("expected completed window 7 after tick, got %v", r.Value())
	}
	if r.AccumulatedValue() != 0 {
		t.Fatalf("expected accumulated reset to 0 after tick, got %v", r.AccumulatedValue())
	}
}

func TestMinMaxIgnoreUntouchedZero(t *testing.T) {
	mn := NewMin()
	mn.Add(5)
	mn.Add(2)
	mn.Add(9)
	if mn.Value() != 2 {
		t.Fatalf("expected min 2, got %v", mn.Value())
	}

	mx := NewMax()
	mx.Add(5)
	mx.Add(2)
	mx.Add(9)
	if mx.Value() != 9 {
		t.Fatalf("expected max 9, got %v", mx.Value())
	}
}

func TestAverage(t *testing.T) {
	a := NewAverage()
	if a.Value() != 0 {
		t.Fatal("expected 0 average when empty")
	}
	a.Add(2)
	a.Add(4)
	if a.Value() != 3 {
		t.Fatalf("expected average 3, got %v", a.Value())
	}
}

func TestUptimeValueNonNegativeAndDisposeFreezesAtZero(t *testing.T) {
	u := NewUptime()
	if u.Value() < 0 {
		t.Fatal("expected non-negative uptime")
	}
	u.Dispose()
	if v := u.Value(); v != 0 {
		t.Fatalf("expected disposed uptime to read 0, got %v", v)
	}
}
