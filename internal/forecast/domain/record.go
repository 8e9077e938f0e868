package forecast

import (
	"sort"
	"time"
)

// Record is one hourly prediction row from the forecast store. PredictionTS carries the
// wall clock of the delivery hour in the forecast zone.
type Record struct {
	CustomerName string
	PredictionTS time.Time
	ModelPred    float64
	CustomerPred *float64
	CreatedAt    time.Time
}

// CustomerDay groups the records of one customer for one calendar day.
type CustomerDay struct {
	Customer string
	Day      time.Time
	Records  []Record
}

// DayStart truncates t to midnight in its own location.
func DayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// GroupByCustomerDay groups records by customer and day, ordered by customer then day,
// with each group's records ordered by prediction time.
func GroupByCustomerDay(records []Record) []CustomerDay {
	type key struct {
		customer string
		day      string
	}
	index := make(map[key]int)
	var groups []CustomerDay
	for _, record := range records {
		day := DayStart(record.PredictionTS)
		k := key{customer: record.CustomerName, day: day.Format(DayLayout)}
		pos, ok := index[k]
		if !ok {
			pos = len(groups)
			index[k] = pos
			groups = append(groups, CustomerDay{Customer: record.CustomerName, Day: day})
		}
		groups[pos].Records = append(groups[pos].Records, record)
	}
	for i := range groups {
		recs := groups[i].Records
		sort.SliceStable(recs, func(a, b int) bool { return recs[a].PredictionTS.Before(recs[b].PredictionTS) })
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].Customer != groups[b].Customer {
			return groups[a].Customer < groups[b].Customer
		}
		return groups[a].Day.Before(groups[b].Day)
	})
	return groups
}
