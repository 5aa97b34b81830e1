package handlers

import (
	"os"
	"time"
)

// One organization, one timezone: every attendance day key is computed in
// orgLoc regardless of where the scanning device sits.
var orgLoc *time.Location

func init() {
	name := os.Getenv("ORG_TIMEZONE")
	if name == "" {
		name = "America/New_York"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		// fallback to UTC if the tzdata is missing
		orgLoc = time.UTC
		return
	}
	orgLoc = loc
}

// OrgLocation returns the organization's timezone.
func OrgLocation() *time.Location {
	return orgLoc
}

// DayKey renders the attendance day key, e.g. "2006-01-02".
func DayKey(t time.Time) string {
	return t.In(orgLoc).Format("2006-01-02")
}
