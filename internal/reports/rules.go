package reports

import (
	"fmt"
)

// Trend directions.
const (
	TrendIncreasing = "Increasing trend"
	TrendDecreasing = "Decreasing trend"
	TrendStable     = "Stable"
)

// Trend is one observation about the window.
type Trend struct {
	Metric      string `json:"metric"`
	Direction   string `json:"direction"`
	Description string `json:"description"`
}

const (
	growthThreshold      = 10.0
	highNoShowThreshold  = 15.0
	lowNoShowThreshold   = 5.0
	highRiskThreshold    = 20.0
	reminderRateFloor    = 80.0
	cancellationCeiling  = 20.0
	completionRateTarget = 70.0
)

// IdentifyTrends compares the first and second halves of the daily booking
// buckets and flags rates outside their expected bands.
func IdentifyTrends(s Statistics) []Trend {
	var trends []Trend

	half := len(s.DailyBookings) / 2
	if half > 0 {
		first, second := 0, 0
		for i, n := range s.DailyBookings {
			if i < half {
				first += n
			} else if i >= len(s.DailyBookings)-half {
				second += n
			}
		}
		switch {
		case first == 0 && second > 0:
			trends = append(trends, Trend{Metric: "bookings", Direction: TrendIncreasing,
				Description: fmt.Sprintf("Bookings rose from none to %d in the second half of the period", second)})
		case first > 0:
			change := float64(second-first) / float64(first) * 100
			if change > growthThreshold {
				trends = append(trends, Trend{Metric: "bookings", Direction: TrendIncreasing,
					Description: fmt.Sprintf("Bookings up %.1f%% in the second half of the period", change)})
			} else if change < -growthThreshold {
				trends = append(trends, Trend{Metric: "bookings", Direction: TrendDecreasing,
					Description: fmt.Sprintf("Bookings down %.1f%% in the second half of the period", -change)})
			}
		}
	}

	if s.TotalBookings > 0 {
		if s.NoShowRate > highNoShowThreshold {
			trends = append(trends, Trend{Metric: "noShowRate", Direction: TrendIncreasing,
				Description: fmt.Sprintf("No-show rate of %.1f%% is above the %.0f%% threshold", s.NoShowRate, highNoShowThreshold)})
		} else if s.NoShowRate < lowNoShowThreshold {
			trends = append(trends, Trend{Metric: "noShowRate", Direction: TrendStable,
				Description: fmt.Sprintf("No-show rate of %.1f%% is excellent", s.NoShowRate)})
		}
		if s.ReminderRate < reminderRateFloor {
			trends = append(trends, Trend{Metric: "reminderRate", Direction: TrendDecreasing,
				Description: fmt.Sprintf("Only %.1f%% of bookings received a reminder", s.ReminderRate)})
		}
	}
	if s.TotalTriage > 0 && s.HighRiskPercentage > highRiskThreshold {
		trends = append(trends, Trend{Metric: "highRiskPercentage", Direction: TrendIncreasing,
			Description: fmt.Sprintf("%.1f%% of intakes were triaged High urgency", s.HighRiskPercentage)})
	}
	return trends
}

type rule struct {
	applies func(Statistics, []Trend) bool
	text    string
}

func hasTrend(trends []Trend, metric, direction string) bool {
	for _, t := range trends {
		if t.Metric == metric && t.Direction == direction {
			return true
		}
	}
	return false
}

var recommendationRules = []rule{
	{
		applies: func(s Statistics, _ []Trend) bool { return s.TotalBookings > 0 && s.NoShowRate > highNoShowThreshold },
		text:    "Add a same-day confirmation call or text for appointments to reduce no-shows.",
	},
	{
		applies: func(s Statistics, _ []Trend) bool { return s.TotalBookings > 0 && s.CancellationRate > cancellationCeiling },
		text:    "Review cancellation reasons and offer rescheduling before the slot is released.",
	},
	{
		applies: func(s Statistics, _ []Trend) bool { return s.TotalTriage > 0 && s.HighRiskPercentage > highRiskThreshold },
		text:    "Reserve same-day capacity for high-urgency patients and confirm each was contacted.",
	},
	{
		applies: func(s Statistics, _ []Trend) bool { return s.TotalBookings > 0 && s.ReminderRate < reminderRateFloor },
		text:    "Check reminder delivery; some bookings did not receive a reminder.",
	},
	{
		applies: func(s Statistics, _ []Trend) bool {
			return s.CompletedAppointments+s.NoShows > 0 && s.CompletionRate < completionRateTarget && s.NoShowRate <= highNoShowThreshold
		},
		text: "Confirm visit outcomes are being recorded so completion rates stay accurate.",
	},
	{
		applies: func(_ Statistics, t []Trend) bool { return hasTrend(t, "bookings", TrendDecreasing) },
		text:    "Booking volume is falling; consider patient outreach or recall campaigns.",
	},
	{
		applies: func(_ Statistics, t []Trend) bool { return hasTrend(t, "bookings", TrendIncreasing) },
		text:    "Booking volume is growing; review provider capacity for the coming weeks.",
	},
}

const defaultRecommendation = "Operations are within normal ranges; maintain current processes."

// GenerateRecommendations applies the fixed rule table in order. It always
// returns at least one recommendation.
func GenerateRecommendations(s Statistics, trends []Trend) []string {
	var out []string
	for _, r := range recommendationRules {
		if r.applies(s, trends) {
			out = append(out, r.text)
		}
	}
	if len(out) == 0 {
		out = append(out, defaultRecommendation)
	}
	return out
}
