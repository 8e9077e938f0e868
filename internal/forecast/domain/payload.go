package forecast

import (
	"fmt"
	"math"
	"sort"
)

const (
	// HoursPerDay is the number of hourly slots every forecast day must carry.
	HoursPerDay = 24

	// DeliveryLayout is the wall-clock layout of deliveryStart and deliveryEnd.
	DeliveryLayout = "2006-01-02T15:04:05"
	// DayLayout is the layout of forecastDay.
	DayLayout = "2006-01-02"
)

// Request is the save-consumption-forecasts-provider request body.
type Request struct {
	GroupID          int    `json:"groupId"`
	UserID           int    `json:"userId"`
	Period           int    `json:"period"`
	Interval         int    `json:"interval"`
	ForecastDataList []Data `json:"forecastDataList"`
}

// Data is one facility/day entry of a Request.
type Data struct {
	UnitType    int     `json:"unitType"`
	UnitNo      int     `json:"unitNo"`
	ProviderKey string  `json:"providerKey"`
	Total       float64 `json:"total"`
	IsUpdated   bool    `json:"isUpdated"`
	ForecastDay string  `json:"forecastDay"`
	Forecasts   []Hour  `json:"forecasts"`
}

// Hour is one hourly slot.
type Hour struct {
	IsUpdated           bool    `json:"isUpdated"`
	DeliveryStart       string  `json:"deliveryStart"`
	DeliveryEnd         string  `json:"deliveryEnd"`
	DeliveryStartOffset int     `json:"deliveryStartOffset"`
	DeliveryEndOffset   int     `json:"deliveryEndOffset"`
	Order               int     `json:"order"`
	Value               float64 `json:"value"`
}

// Validate checks the shape the forecast API enforces: at least one entry, each with
// exactly 24 hours whose orders are exactly {1..24}.
func (r Request) Validate() error {
	if len(r.ForecastDataList) == 0 {
		return &ValidationError{Field: "forecastDataList", Reason: "empty"}
	}
	for i, data := range r.ForecastDataList {
		if err := data.Validate(); err != nil {
			if verr, ok := err.(*ValidationError); ok {
				verr.Index = i
			}
			return err
		}
	}
	return nil
}

// Validate checks a single entry.
func (d Data) Validate() error {
	if len(d.Forecasts) != HoursPerDay {
		return &ValidationError{
			Field:  "forecasts",
			Reason: fmt.Sprintf("expected %d hourly forecasts, got %d", HoursPerDay, len(d.Forecasts)),
		}
	}
	seen := make(map[int]bool, HoursPerDay)
	for _, hour := range d.Forecasts {
		if hour.Order < 1 || hour.Order > HoursPerDay || seen[hour.Order] {
			return &ValidationError{Field: "order", Reason: "forecast orders must be 1-24"}
		}
		seen[hour.Order] = true
	}
	return nil
}

// HourCount returns the number of hourly slots across all entries.
func (r Request) HourCount() int {
	count := 0
	for _, data := range r.ForecastDataList {
		count += len(data.Forecasts)
	}
	return count
}

// PreviewLines summarizes the first and last n hours of every entry.
func (r Request) PreviewLines(n int) []string {
	var lines []string
	for _, data := range r.ForecastDataList {
		lines = append(lines, fmt.Sprintf("unit=%d day=%s provider=%s hours=%d total=%.2f",
			data.UnitNo, data.ForecastDay, data.ProviderKey, len(data.Forecasts), data.Total))
		hours := append([]Hour(nil), data.Forecasts...)
		sort.Slice(hours, func(i, j int) bool { return hours[i].Order < hours[j].Order })
		for i, hour := range hours {
			if n > 0 && i >= n && i < len(hours)-n {
				if i == n {
					lines = append(lines, "  ...")
				}
				continue
			}
			lines = append(lines, fmt.Sprintf("  %02d %s -> %s %8.2f", hour.Order, hour.DeliveryStart, hour.DeliveryEnd, hour.Value))
		}
	}
	return lines
}

// TotalMode selects how the daily total is derived from the hourly values.
type TotalMode string

const (
	TotalSum     TotalMode = "sum"
	TotalAverage TotalMode = "average"
)

// Total computes the daily total of hours, rounded to 2 decimals.
func Total(hours []Hour, mode TotalMode) float64 {
	if len(hours) == 0 {
		return 0
	}
	var sum float64
	for _, hour := range hours {
		sum += hour.Value
	}
	if mode == TotalAverage {
		return Round2(sum / float64(len(hours)))
	}
	return Round2(sum)
}

// Round2 rounds to 2 decimals.
func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}
