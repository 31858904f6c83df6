package cicd

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	durationNeverConstant = "never"
	hoursPerDayConstant   = 24
	daysPerWeekConstant   = 7
	daysPerMonthConstant  = 30
	daysPerYearConstant   = 365
)

var (
	durationComponentPattern = regexp.MustCompile(`(\d+)\s*([a-z]+)?`)
	durationFillerPattern    = regexp.MustCompile(`\band\b|,`)
)

var durationUnits = map[string]time.Duration{
	"s":       time.Second,
	"sec":     time.Second,
	"secs":    time.Second,
	"second":  time.Second,
	"seconds": time.Second,
	"m":       time.Minute,
	"min":     time.Minute,
	"mins":    time.Minute,
	"minute":  time.Minute,
	"minutes": time.Minute,
	"h":       time.Hour,
	"hr":      time.Hour,
	"hrs":     time.Hour,
	"hour":    time.Hour,
	"hours":   time.Hour,
	"d":       hoursPerDayConstant * time.Hour,
	"day":     hoursPerDayConstant * time.Hour,
	"days":    hoursPerDayConstant * time.Hour,
	"w":       daysPerWeekConstant * hoursPerDayConstant * time.Hour,
	"week":    daysPerWeekConstant * hoursPerDayConstant * time.Hour,
	"weeks":   daysPerWeekConstant * hoursPerDayConstant * time.Hour,
	"mo":      daysPerMonthConstant * hoursPerDayConstant * time.Hour,
	"month":   daysPerMonthConstant * hoursPerDayConstant * time.Hour,
	"months":  daysPerMonthConstant * hoursPerDayConstant * time.Hour,
	"y":       daysPerYearConstant * hoursPerDayConstant * time.Hour,
	"yr":      daysPerYearConstant * hoursPerDayConstant * time.Hour,
	"year":    daysPerYearConstant * hoursPerDayConstant * time.Hour,
	"years":   daysPerYearConstant * hoursPerDayConstant * time.Hour,
}

// parseGitLabDuration reads the human durations GitLab accepts for timeout and
// expire_in ("1h 30m", "3 hours", "2 weeks and 1 day", "3600"). A bare number is seconds.
func parseGitLabDuration(text string) (time.Duration, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if len(normalized) == 0 || normalized == durationNeverConstant {
		return 0, false
	}
	if seconds, parseError := strconv.Atoi(normalized); parseError == nil {
		return time.Duration(seconds) * time.Second, seconds > 0
	}
	normalized = durationFillerPattern.ReplaceAllString(normalized, " ")
	components := durationComponentPattern.FindAllStringSubmatchIndex(normalized, -1)
	if len(components) == 0 {
		return 0, false
	}
	var total time.Duration
	consumed := 0
	for _, component := range components {
		if len(strings.TrimSpace(normalized[consumed:component[0]])) > 0 {
			return 0, false
		}
		consumed = component[1]
		amount, _ := strconv.Atoi(normalized[component[2]:component[3]])
		unitName := ""
		if component[4] >= 0 {
			unitName = normalized[component[4]:component[5]]
		}
		unit, known := durationUnits[unitName]
		if !known {
			return 0, false
		}
		total += time.Duration(amount) * unit
	}
	if len(strings.TrimSpace(normalized[consumed:])) > 0 || total <= 0 {
		return 0, false
	}
	return total, true
}

// ceilingUnits rounds the duration up to a whole number of units.
func ceilingUnits(duration time.Duration, unit time.Duration) int {
	return int((duration + unit - 1) / unit)
}
