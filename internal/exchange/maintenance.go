package exchange

import "time"

// The exchange takes its weekly maintenance window Thursday 03:00-05:00
// Eastern. Orders placed during it are rejected, and quotes go dark, so
// the engine holds off on trading entirely.

var eastern = mustLoadEastern()

func mustLoadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		// Zone database missing from the host; fixed offset is close
		// enough for a two-hour trading pause.
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// InMaintenanceWindow reports whether t falls inside the weekly
// maintenance window.
func InMaintenanceWindow(t time.Time) bool {
	et := t.In(eastern)
	return et.Weekday() == time.Thursday && et.Hour() >= 3 && et.Hour() < 5
}
