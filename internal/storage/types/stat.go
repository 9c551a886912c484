package types

// StatPoint holds the statistics for one time bucket of a statistical or
// window query. Start and End delimit the bucket as a half-open interval in
// nanoseconds.
type StatPoint struct {
	Start int64
	End   int64

	Count int64
	Min   float64
	Mean  float64
	Max   float64

	// Percentiles (nil when percentile calculation is disabled)
	P50 *float64
	P90 *float64
	P95 *float64
	P99 *float64
}

// SetPercentiles sets all percentile values.
func (s *StatPoint) SetPercentiles(p50, p90, p95, p99 float64) {
	s.P50 = &p50
	s.P90 = &p90
	s.P95 = &p95
	s.P99 = &p99
}

// HasPercentiles reports whether percentile values are present.
func (s *StatPoint) HasPercentiles() bool {
	return s.P50 != nil
}
