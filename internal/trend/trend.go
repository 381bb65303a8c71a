package trend

// Trend is a linear fit over an observed series, indexed from x=0.
type Trend struct {
	Slope     float64
	Intercept float64
}

// CalculateTrend fits a least-squares line through values indexed 0..n-1.
// An empty series yields a zero trend; a single observation yields a flat
// trend at that value.
func CalculateTrend(values []float64) Trend {
	n := len(values)
	switch n {
	case 0:
		return Trend{}
	case 1:
		return Trend{Intercept: values[0]}
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	count := float64(n)
	denom := count*sumXX - sumX*sumX
	if denom == 0 {
		return Trend{Intercept: sumY / count}
	}
	slope := (count*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / count
	return Trend{Slope: slope, Intercept: intercept}
}

// At evaluates the fitted line at index x.
func (t Trend) At(x int) float64 {
	return t.Slope*float64(x) + t.Intercept
}

// PredictRemainingAttempts extrapolates the attempt-count trend `remaining`
// steps past the observed series and sums the predictions, estimating total
// effort left. The result never undercuts the literal remaining-item count:
// each item costs at least one attempt.
func PredictRemainingAttempts(history []float64, remaining int) int {
	if remaining <= 0 {
		return 0
	}

	fitted := CalculateTrend(history)
	var predicted float64
	for step := 0; step < remaining; step++ {
		value := fitted.At(len(history) + step)
		if value < 1 {
			value = 1
		}
		predicted += value
	}

	total := int(predicted + 0.5)
	if total < remaining {
		total = remaining
	}
	return total
}
