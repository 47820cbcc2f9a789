package timeutil

import "time"

// TimezoneOption is one entry in the curated timezone picker list. Day
// boundaries for step records are computed in a configured zone, so clients
// need a sensible list to choose from.
type TimezoneOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// CommonTimezones is a curated west-to-east list covering the distinct
// STD/DST offset pairs most step clients live in. All IDs are verified
// against the system tz database.
var CommonTimezones = []TimezoneOption{
	{"Pacific/Honolulu", "Honolulu (-10:00)"},
	{"America/Anchorage", "Anchorage (-09:00/-08:00)"},
	{"America/Los_Angeles", "Los Angeles (-08:00/-07:00)"},
	{"America/Denver", "Denver (-07:00/-06:00)"},
	{"America/Phoenix", "Phoenix (-07:00)"},
	{"America/Chicago", "Chicago (-06:00/-05:00)"},
	{"America/New_York", "New York (-05:00/-04:00)"},
	{"America/Santiago", "Santiago (-04:00/-03:00)"},
	{"America/Sao_Paulo", "Sao Paulo (-03:00)"},
	{"UTC", "UTC (+00:00)"},
	{"Europe/London", "London (+00:00/+01:00)"},
	{"Europe/Paris", "Paris (+01:00/+02:00)"},
	{"Europe/Athens", "Athens (+02:00/+03:00)"},
	{"Europe/Moscow", "Moscow (+03:00)"},
	{"Asia/Dubai", "Dubai (+04:00)"},
	{"Asia/Karachi", "Karachi (+05:00)"},
	{"Asia/Kolkata", "Kolkata (+05:30)"},
	{"Asia/Dhaka", "Dhaka (+06:00)"},
	{"Asia/Bangkok", "Bangkok (+07:00)"},
	{"Asia/Shanghai", "Shanghai (+08:00)"},
	{"Asia/Tokyo", "Tokyo (+09:00)"},
	{"Australia/Sydney", "Sydney (+10:00/+11:00)"},
	{"Pacific/Auckland", "Auckland (+12:00/+13:00)"},
}

// IsTimezoneValid reports whether tz loads from the system tz database.
// "Local" is accepted as the process-local zone.
func IsTimezoneValid(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}
