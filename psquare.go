package scheduler

import (
	"math"
	"slices"
)

// quantileEstimator is a streaming quantile estimator, using the P-Square
// algorithm, with O(1) updates and retrieval, and constant memory.
//
// Jain, R. and Chlamtac, I. (1985). "The P² Algorithm for Dynamic Calculation
// of Quantiles and Histograms Without Storing Observations". Communications
// of the ACM, 28(10), pp. 1076-1085.
//
// Not safe for concurrent use.
type quantileEstimator struct {
	// heights of the 5 markers
	heights [5]float64
	// desired positions of the markers
	desired [5]float64
	// increments applied to desired, per observation
	increments [5]float64
	// actual positions of the markers
	positions [5]int
	p         float64
	count     int
}

func newQuantileEstimator(p float64) *quantileEstimator {
	p = math.Max(0, math.Min(1, p))
	return &quantileEstimator{
		p:          p,
		increments: [5]float64{0, p / 2, p, (1 + p) / 2, 1},
	}
}

func (x *quantileEstimator) update(v float64) {
	if x.count < 5 {
		// the first five observations seed the markers
		x.heights[x.count] = v
		x.count++
		if x.count == 5 {
			slices.Sort(x.heights[:])
			for i := range x.positions {
				x.positions[i] = i
			}
			x.desired = [5]float64{0, 2 * x.p, 4 * x.p, 2 + 2*x.p, 4}
		}
		return
	}
	x.count++

	var cell int
	switch {
	case v < x.heights[0]:
		x.heights[0] = v
	case v >= x.heights[4]:
		x.heights[4] = v
		cell = 3
	default:
		for cell = 0; cell < 3 && v >= x.heights[cell+1]; cell++ {
		}
	}

	for i := cell + 1; i < 5; i++ {
		x.positions[i]++
	}
	for i := range x.desired {
		x.desired[i] += x.increments[i]
	}

	for i := 1; i < 4; i++ {
		d := x.desired[i] - float64(x.positions[i])
		if !(d >= 1 && x.positions[i+1]-x.positions[i] > 1) &&
			!(d <= -1 && x.positions[i-1]-x.positions[i] < -1) {
			continue
		}
		sign := 1
		if d < 0 {
			sign = -1
		}
		if h := x.parabolic(i, sign); x.heights[i-1] < h && h < x.heights[i+1] {
			x.heights[i] = h
		} else {
			x.heights[i] = x.linear(i, sign)
		}
		x.positions[i] += sign
	}
}

func (x *quantileEstimator) parabolic(i, sign int) float64 {
	d := float64(sign)
	n0, n1, n2 := float64(x.positions[i-1]), float64(x.positions[i]), float64(x.positions[i+1])
	q0, q1, q2 := x.heights[i-1], x.heights[i], x.heights[i+1]
	return q1 + d/(n2-n0)*((n1-n0+d)*(q2-q1)/(n2-n1)+(n2-n1-d)*(q1-q0)/(n1-n0))
}

func (x *quantileEstimator) linear(i, sign int) float64 {
	j := i + sign
	return x.heights[i] + float64(sign)*(x.heights[j]-x.heights[i])/float64(x.positions[j]-x.positions[i])
}

func (x *quantileEstimator) quantile() float64 {
	switch {
	case x.count == 0:
		return 0
	case x.count < 5:
		seeded := slices.Clone(x.heights[:x.count])
		slices.Sort(seeded)
		return seeded[int(float64(x.count-1)*x.p)]
	default:
		return x.heights[2]
	}
}
