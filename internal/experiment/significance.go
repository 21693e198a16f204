package experiment

import (
	"fmt"
	"math"

	"trade-metrics-lab/internal/domain"
)

// Sample is one variant's input to a significance test.
type Sample struct {
	Returns []float64 // per-trade pnl percent
	Metric  *float64  // primary metric value
}

// SignificanceTest compares two variants.
type SignificanceTest interface {
	Name() string
	Test(a, b Sample) domain.Significance
}

// Significance method names.
const (
	MethodWelch     = "welch"
	MethodThreshold = "threshold"
)

// NewSignificanceTest returns the test registered under method.
func NewSignificanceTest(method string, minSamples int, alpha, thresholdPct float64) (SignificanceTest, error) {
	if minSamples <= 0 {
		minSamples = 20
	}
	switch method {
	case "", MethodWelch:
		if alpha <= 0 || alpha >= 1 {
			alpha = 0.05
		}
		return WelchTest{Alpha: alpha, MinSamples: minSamples}, nil
	case MethodThreshold:
		if thresholdPct <= 0 {
			thresholdPct = 10
		}
		return ThresholdTest{ThresholdPct: thresholdPct, MinSamples: minSamples}, nil
	default:
		return nil, domain.NewValidationError("significance_method", fmt.Sprintf("unknown method %q", method))
	}
}

// WelchTest is Welch's unequal-variance two-sample t-test on trade-level returns,
// reporting a two-sided p-value.
type WelchTest struct {
	Alpha      float64
	MinSamples int
}

// Name implements SignificanceTest.
func (WelchTest) Name() string { return MethodWelch }

// Test implements SignificanceTest.
func (w WelchTest) Test(a, b Sample) domain.Significance {
	out := domain.Significance{Method: MethodWelch, Status: domain.SignificanceInsufficient}
	xa, xb := finiteOnly(a.Returns), finiteOnly(b.Returns)
	if len(xa) < max(w.MinSamples, 2) || len(xb) < max(w.MinSamples, 2) {
		return out
	}

	ma, va := meanVar(xa)
	mb, vb := meanVar(xb)
	na, nb := float64(len(xa)), float64(len(xb))
	sa, sb := va/na, vb/nb
	se := math.Sqrt(sa + sb)
	// equal floats leave a residual variance; treat it as zero
	if se <= 1e-12*math.Max(1, math.Max(math.Abs(ma), math.Abs(mb))) {
		out.Status = domain.SignificanceNotApplicable
		return out
	}

	t := (ma - mb) / se
	df := (sa + sb) * (sa + sb) / (sa*sa/(na-1) + sb*sb/(nb-1))
	p := studentTwoSidedP(t, df)

	out.TStatistic = &t
	out.DegreesOfFreedom = &df
	out.PValue = &p
	if p < w.Alpha {
		out.Status = domain.SignificanceSignificant
	} else {
		out.Status = domain.SignificanceNotSignificant
	}
	return out
}

// ThresholdTest flags a difference as significant when the primary metric of
// the two variants differs by more than ThresholdPct relative to the smaller magnitude.
type ThresholdTest struct {
	ThresholdPct float64
	MinSamples   int
}

// Name implements SignificanceTest.
func (ThresholdTest) Name() string { return MethodThreshold }

// Test implements SignificanceTest.
func (th ThresholdTest) Test(a, b Sample) domain.Significance {
	out := domain.Significance{Method: MethodThreshold, Status: domain.SignificanceInsufficient}
	if len(a.Returns) < th.MinSamples || len(b.Returns) < th.MinSamples || a.Metric == nil || b.Metric == nil {
		return out
	}
	base := math.Min(math.Abs(*a.Metric), math.Abs(*b.Metric))
	if base == 0 {
		out.Status = domain.SignificanceNotApplicable
		return out
	}
	if math.Abs(*a.Metric-*b.Metric)/base*100 > th.ThresholdPct {
		out.Status = domain.SignificanceSignificant
	} else {
		out.Status = domain.SignificanceNotSignificant
	}
	return out
}

func finiteOnly(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}

// meanVar returns the mean and sample variance (n-1).
func meanVar(xs []float64) (mean, variance float64) {
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	return mean, variance / float64(len(xs)-1)
}

// studentTwoSidedP is P(|T| >= |t|) for Student's t with df degrees of freedom:
// I_{df/(df+t²)}(df/2, 1/2).
func studentTwoSidedP(t, df float64) float64 {
	x := df / (df + t*t)
	return regIncBeta(df/2, 0.5, x)
}

// regIncBeta is the regularized incomplete beta function I_x(a, b).
func regIncBeta(a, b, x float64) float64 {
	switch {
	case x <= 0:
		return 0
	case x >= 1:
		return 1
	}
	la, _ := math.Lgamma(a)
	lb, _ := math.Lgamma(b)
	lab, _ := math.Lgamma(a + b)
	front := math.Exp(lab - la - lb + a*math.Log(x) + b*math.Log(1-x))

	// The continued fraction converges fastest below the mean of the distribution.
	if x < (a+1)/(a+b+2) {
		return front * betaCF(a, b, x) / a
	}
	return 1 - front*betaCF(b, a, 1-x)/b
}

// betaCF evaluates the incomplete beta continued fraction by the modified Lentz method.
func betaCF(a, b, x float64) float64 {
	const (
		maxIter = 300
		eps     = 1e-14
		tiny    = 1e-300
	)
	qab, qap, qam := a+b, a+1, a-1
	c, d := 1.0, 1-qab*x/qap
	if math.Abs(d) < tiny {
		d = tiny
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < tiny {
			d = tiny
		}
		c = 1 + aa/c
		if math.Abs(c) < tiny {
			c = tiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}
