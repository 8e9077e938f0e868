package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	forecast "forecast-sender/internal/forecast/domain"
)

// maxRangeDays bounds --from/--to expansion.
const maxRangeDays = 366

// resolveDates expands the date flags into target days in loc. Explicit --date values come
// first in the order given, followed by the inclusive --from/--to range. With no flags the
// current day is used.
func resolveDates(explicit []string, from, to string, loc *time.Location, now time.Time) ([]time.Time, error) {
	seen := make(map[string]bool)
	var out []time.Time
	add := func(day time.Time) {
		key := day.Format(forecast.DayLayout)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, day)
	}

	for _, raw := range explicit {
		day, err := time.ParseInLocation(forecast.DayLayout, strings.TrimSpace(raw), loc)
		if err != nil {
			return nil, fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", raw)
		}
		add(day)
	}

	if from != "" || to != "" {
		if from == "" || to == "" {
			return nil, fmt.Errorf("--from and --to must be given together")
		}
		start, err := time.ParseInLocation(forecast.DayLayout, from, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid --from %q: expected YYYY-MM-DD", from)
		}
		end, err := time.ParseInLocation(forecast.DayLayout, to, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid --to %q: expected YYYY-MM-DD", to)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("--to %s is before --from %s", to, from)
		}
		for day, n := start, 0; !day.After(end); day, n = day.AddDate(0, 0, 1), n+1 {
			if n >= maxRangeDays {
				return nil, fmt.Errorf("date range exceeds %d days", maxRangeDays)
			}
			add(day)
		}
	}

	if len(out) == 0 {
		add(forecast.DayStart(now.In(loc)))
	}
	return out, nil
}

// reportFormat picks the report renderer from the file extension.
func reportFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return "xlsx", nil
	case ".pdf":
		return "pdf", nil
	default:
		return "", fmt.Errorf("unsupported report extension %q (use .xlsx or .pdf)", filepath.Ext(path))
	}
}
