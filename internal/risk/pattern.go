package risk

// Pattern analysis over a device's access history. The analyzer is pure
// computation: callers fetch history from the AccessStore and pass it in.

const (
	// minAccessesForBaseline is how many events a device needs before its
	// hour-of-day and day-of-week distribution means anything.
	minAccessesForBaseline = 5

	hourWeight = 0.7
	dayWeight  = 0.3
)

// PatternAnalyzer scores how unusual the current access looks against the
// device's historical access distribution.
type PatternAnalyzer struct{}

// NewPatternAnalyzer creates a new pattern analyzer
func NewPatternAnalyzer() *PatternAnalyzer {
	return &PatternAnalyzer{}
}

// BuildStats aggregates raw access history into the per-hour, per-day,
// per-country, and per-IP counts the analyzer works from.
func (a *PatternAnalyzer) BuildStats(accesses []DeviceAccess) AccessStats {
	stats := AccessStats{
		HourCounts:    make(map[int]int),
		DayCounts:     make(map[int]int),
		CountryCounts: make(map[string]int),
		IPCounts:      make(map[string]int),
	}

	seenASNs := make(map[string]bool)
	for _, access := range accesses {
		stats.Total++
		ts := access.AccessedAt.UTC()
		stats.HourCounts[ts.Hour()]++
		stats.DayCounts[int(ts.Weekday())]++
		if access.Location != nil && access.Location.Country != "" {
			stats.CountryCounts[access.Location.Country]++
		}
		if access.IPAddress != "" {
			stats.IPCounts[access.IPAddress]++
		}
		if access.ASN != "" && !seenASNs[access.ASN] {
			seenASNs[access.ASN] = true
			stats.DistinctASNs = append(stats.DistinctASNs, access.ASN)
		}
	}

	return stats
}

// TemporalAnomaly returns a score in [0, 1] for how unusual the given hour
// and weekday are for this device. Devices without an established baseline
// score exactly 0 so that sparse history never penalizes a user.
func (a *PatternAnalyzer) TemporalAnomaly(stats AccessStats, hour int, weekday int) float64 {
	if stats.Total < minAccessesForBaseline {
		return 0.0
	}

	hourFreq := float64(stats.HourCounts[hour]) / float64(stats.Total)
	dayFreq := float64(stats.DayCounts[weekday]) / float64(stats.Total)

	// A uniformly random distribution gives each hour frequency 1/24 and
	// each weekday 1/7. Scaling by those constants makes "exactly average"
	// score zero and a never-seen slot score the full weight.
	hourScore := 1.0 - hourFreq*24.0
	dayScore := 1.0 - dayFreq*7.0

	anomaly := hourWeight*hourScore + dayWeight*dayScore
	if anomaly < 0 {
		anomaly = 0
	}
	if anomaly > 1 {
		anomaly = 1
	}
	return anomaly
}

// MostCommonHour returns the hour of day (0-23) this device accesses
// most, or -1 when there is no history. Ties resolve to the earliest
// hour.
func (s AccessStats) MostCommonHour() int {
	return mostCommonKey(s.HourCounts)
}

// MostCommonDay returns the weekday (0=Sunday) this device accesses
// most, or -1 when there is no history. Ties resolve to the earliest
// day.
func (s AccessStats) MostCommonDay() int {
	return mostCommonKey(s.DayCounts)
}

func mostCommonKey(counts map[int]int) int {
	best, bestCount := -1, 0
	for k, n := range counts {
		if n > bestCount || (n == bestCount && k < best) {
			best, bestCount = k, n
		}
	}
	return best
}

// IsNewASN reports whether the current ASN has never appeared in the
// device's history. Informational only.
func (a *PatternAnalyzer) IsNewASN(stats AccessStats, asn string) bool {
	if asn == "" || stats.Total == 0 {
		return false
	}
	for _, known := range stats.DistinctASNs {
		if known == asn {
			return false
		}
	}
	return true
}
