package scheduler

import "time"

// Pace bounds used to bracket when skiers pass a checkpoint.
const (
	FastPaceKmh = 30.0
	SlowPaceKmh = 10.0
)

// ExtractionTimes returns the whole hours between the earliest and latest
// plausible pass-through times at a checkpoint distanceKm into the race.
// The start checkpoint gets a single slot at the start hour.
func ExtractionTimes(start time.Time, distanceKm float64) []time.Time {
	if distanceKm <= 0 {
		return []time.Time{floorHour(start)}
	}
	earliest := floorHour(start.Add(hours(distanceKm / FastPaceKmh)))
	latest := ceilHour(start.Add(hours(distanceKm / SlowPaceKmh)))

	var times []time.Time
	for t := earliest; !t.After(latest); t = t.Add(time.Hour) {
		times = append(times, t)
	}
	return times
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func floorHour(t time.Time) time.Time {
	return t.Truncate(time.Hour)
}

func ceilHour(t time.Time) time.Time {
	f := t.Truncate(time.Hour)
	if f.Equal(t) {
		return f
	}
	return f.Add(time.Hour)
}
