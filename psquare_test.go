package scheduler

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

func TestQuantileEstimator_uniform(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, p := range [...]float64{0.5, 0.9, 0.99} {
		est := newQuantileEstimator(p)
		for range 20000 {
			est.update(r.Float64() * 1000)
		}
		if got, want := est.quantile(), p*1000; math.Abs(got-want) > 25 {
			t.Errorf(`p=%v: got %v, want ~%v`, p, got, want)
		}
	}
}

func TestQuantileEstimator_few(t *testing.T) {
	est := newQuantileEstimator(0.5)
	if v := est.quantile(); v != 0 {
		t.Fatal(v)
	}
	for _, v := range [...]float64{3, 1, 2} {
		est.update(v)
	}
	if v := est.quantile(); v != 2 {
		t.Fatal(v)
	}
}

func TestRunMetrics(t *testing.T) {
	var nilMetrics *runMetrics
	nilMetrics.record(time.Second)
	if nilMetrics.snapshot() != nil {
		t.Fatal(`expected nil`)
	}

	m := newRunMetrics()
	for i := 1; i <= 100; i++ {
		m.record(time.Duration(i) * time.Millisecond)
	}
	s := m.snapshot()
	if s.Count != 100 || s.Max != 100*time.Millisecond {
		t.Fatalf(`%+v`, s)
	}
	if s.Mean != 50500*time.Microsecond {
		t.Error(s.Mean)
	}
	if s.P50 < 40*time.Millisecond || s.P50 > 60*time.Millisecond {
		t.Error(s.P50)
	}
	if s.P99 < s.P90 || s.P90 < s.P50 {
		t.Errorf(`%+v`, s)
	}
	if s.TPS != 10 {
		t.Error(s.TPS)
	}
}

func TestTPSCounter_rotate(t *testing.T) {
	c := newTPSCounter(time.Second, 100*time.Millisecond)
	c.increment()
	c.increment()
	c.mu.Lock()
	c.rotate(c.lastRotation.Add(300 * time.Millisecond))
	if c.buckets[len(c.buckets)-4] != 2 {
		t.Errorf(`%v`, c.buckets)
	}
	c.rotate(c.lastRotation.Add(2 * time.Second))
	for _, v := range c.buckets {
		if v != 0 {
			t.Errorf(`%v`, c.buckets)
		}
	}
	c.mu.Unlock()
}
