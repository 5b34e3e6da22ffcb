package risk

import (
	"fmt"
	"math"
	"time"

	commonerrors "github.com/riskcore/riskcore/internal/common/errors"
)

// Default travel speed thresholds in km/h. Commercial flight tops out
// around 900 km/h, so anything past the deny threshold cannot be one
// person.
const (
	DefaultTravelDenySpeedKmh   = 2000.0
	DefaultTravelReviewSpeedKmh = 1000.0
)

// TravelConfig holds the speed thresholds in km/h. Speeds above the
// review threshold are suspicious, speeds above the deny threshold are
// treated as impossible.
type TravelConfig struct {
	ReviewSpeedKmh float64
	DenySpeedKmh   float64
}

// DefaultTravelConfig returns the standard travel thresholds.
func DefaultTravelConfig() TravelConfig {
	return TravelConfig{
		ReviewSpeedKmh: DefaultTravelReviewSpeedKmh,
		DenySpeedKmh:   DefaultTravelDenySpeedKmh,
	}
}

// Validate enforces threshold ordering.
func (c TravelConfig) Validate() error {
	if c.ReviewSpeedKmh <= 0 || c.DenySpeedKmh <= c.ReviewSpeedKmh {
		return commonerrors.ValidationError(
			fmt.Sprintf("travel speeds must satisfy 0 < review (%.0f) < deny (%.0f)",
				c.ReviewSpeedKmh, c.DenySpeedKmh))
	}
	return nil
}

// TravelVerdict is the outcome of a geographic feasibility check.
type TravelVerdict struct {
	Level      RiskLevel `json:"level"`
	DistanceKm float64   `json:"distance_km"`
	SpeedKmh   float64   `json:"speed_kmh"`
	ElapsedMin float64   `json:"elapsed_minutes"`
	Reason     string    `json:"reason"`
}

// TravelDetector flags logins whose implied travel speed between the
// previous located access and the current one is physically impossible.
type TravelDetector struct {
	cfg TravelConfig
}

// NewTravelDetector creates a new travel detector
func NewTravelDetector(cfg TravelConfig) *TravelDetector {
	return &TravelDetector{cfg: cfg}
}

// Evaluate compares the current access against the previous located one.
// A device with no located history always passes.
func (d *TravelDetector) Evaluate(previous *DeviceAccess, current *GeoPoint, at time.Time) TravelVerdict {
	if previous == nil || previous.Location == nil || current == nil {
		return TravelVerdict{
			Level:  LevelAllow,
			Reason: "no prior location to compare against",
		}
	}

	distance := haversineDistance(
		previous.Location.Latitude, previous.Location.Longitude,
		current.Latitude, current.Longitude,
	)

	elapsed := at.Sub(previous.AccessedAt)
	if elapsed <= 0 {
		// Zero or negative elapsed time with any distance is not travel,
		// it is two sessions at once.
		return TravelVerdict{
			Level:      LevelDeny,
			DistanceKm: distance,
			SpeedKmh:   math.Inf(1),
			Reason:     "simultaneous access from distinct locations",
		}
	}

	speed := distance / elapsed.Hours()
	verdict := TravelVerdict{
		DistanceKm: distance,
		SpeedKmh:   speed,
		ElapsedMin: elapsed.Minutes(),
	}

	switch {
	case speed > d.cfg.DenySpeedKmh:
		verdict.Level = LevelDeny
		verdict.Reason = fmt.Sprintf("implied travel speed %.0f km/h exceeds %.0f km/h", speed, d.cfg.DenySpeedKmh)
	case speed > d.cfg.ReviewSpeedKmh:
		verdict.Level = LevelReview
		verdict.Reason = fmt.Sprintf("implied travel speed %.0f km/h is suspicious", speed)
	default:
		verdict.Level = LevelAllow
		verdict.Reason = "travel speed plausible"
	}

	return verdict
}

// haversineDistance calculates the distance between two geo points in km
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371 // km

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
