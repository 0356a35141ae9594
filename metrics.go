package scheduler

import (
	"math"
	"sync"
	"time"
)

// RunStats summarizes task run durations for a single queue, and is only
// populated when [WithMetrics] is enabled.
type RunStats struct {
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration
	Max   time.Duration
	Mean  time.Duration
	Count int
	// TPS is the rate of completed runs, averaged over a rolling window.
	TPS float64
}

// runMetrics tracks task run durations, using streaming quantile estimators.
type runMetrics struct {
	tps       *tpsCounter
	quantiles [3]*quantileEstimator
	sum       time.Duration
	max       time.Duration
	count     int
	mu        sync.Mutex
}

func newRunMetrics() *runMetrics {
	return &runMetrics{
		tps: newTPSCounter(10*time.Second, 100*time.Millisecond),
		quantiles: [3]*quantileEstimator{
			newQuantileEstimator(0.50),
			newQuantileEstimator(0.90),
			newQuantileEstimator(0.99),
		},
	}
}

func (x *runMetrics) record(d time.Duration) {
	if x == nil {
		return
	}
	x.tps.increment()
	x.mu.Lock()
	defer x.mu.Unlock()
	x.count++
	x.sum += d
	x.max = max(x.max, d)
	for _, q := range x.quantiles {
		q.update(float64(d))
	}
}

func (x *runMetrics) snapshot() *RunStats {
	if x == nil {
		return nil
	}
	tps := x.tps.rate()
	x.mu.Lock()
	defer x.mu.Unlock()
	r := RunStats{
		P50:   time.Duration(math.Round(x.quantiles[0].quantile())),
		P90:   time.Duration(math.Round(x.quantiles[1].quantile())),
		P99:   time.Duration(math.Round(x.quantiles[2].quantile())),
		Max:   x.max,
		Count: x.count,
		TPS:   tps,
	}
	if x.count != 0 {
		r.Mean = x.sum / time.Duration(x.count)
	}
	return &r
}

// tpsCounter counts events within a rolling window of fixed size buckets.
type tpsCounter struct {
	lastRotation time.Time
	buckets      []int64
	bucketSize   time.Duration
	windowSize   time.Duration
	mu           sync.Mutex
}

func newTPSCounter(windowSize, bucketSize time.Duration) *tpsCounter {
	return &tpsCounter{
		lastRotation: time.Now(),
		buckets:      make([]int64, max(1, int(windowSize/bucketSize))),
		bucketSize:   bucketSize,
		windowSize:   windowSize,
	}
}

func (x *tpsCounter) increment() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.rotate(time.Now())
	x.buckets[len(x.buckets)-1]++
}

// rotate must be called with mu held.
func (x *tpsCounter) rotate(now time.Time) {
	advance := int(now.Sub(x.lastRotation) / x.bucketSize)
	switch {
	case advance <= 0:
		return
	case advance >= len(x.buckets):
		clear(x.buckets)
		x.lastRotation = now
	default:
		n := copy(x.buckets, x.buckets[advance:])
		clear(x.buckets[n:])
		x.lastRotation = x.lastRotation.Add(time.Duration(advance) * x.bucketSize)
	}
}

func (x *tpsCounter) rate() float64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.rotate(time.Now())
	var sum int64
	for _, v := range x.buckets {
		sum += v
	}
	return float64(sum) / x.windowSize.Seconds()
}
