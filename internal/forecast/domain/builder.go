package forecast

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ValueSource selects which prediction column feeds the hourly values.
type ValueSource string

const (
	ValueModel    ValueSource = "model"
	ValueCustomer ValueSource = "customer"
)

// BuildInput is everything needed to shape one customer/day payload.
type BuildInput struct {
	GroupID    int
	UserID     int
	FacilityID int
	Day        time.Time
	Records    []Record
}

// Builder shapes forecast records into a Request.
type Builder struct {
	providerKey   string
	offsetMinutes int
	totalMode     TotalMode
	valueSource   ValueSource
	period        int
	interval      int
	unitType      int
}

// BuilderOption configures the builder.
type BuilderOption func(*Builder)

// WithProviderKey overrides the provider key.
func WithProviderKey(key string) BuilderOption {
	return func(b *Builder) {
		if key != "" {
			b.providerKey = key
		}
	}
}

// WithOffsetMinutes overrides the UTC offset sent with every hour.
func WithOffsetMinutes(minutes int) BuilderOption {
	return func(b *Builder) {
		b.offsetMinutes = minutes
	}
}

// WithTotalMode overrides how the daily total is computed.
func WithTotalMode(mode TotalMode) BuilderOption {
	return func(b *Builder) {
		if mode == TotalSum || mode == TotalAverage {
			b.totalMode = mode
		}
	}
}

// WithValueSource overrides the prediction column.
func WithValueSource(source ValueSource) BuilderOption {
	return func(b *Builder) {
		if source == ValueModel || source == ValueCustomer {
			b.valueSource = source
		}
	}
}

// WithPeriodInterval overrides the period, interval and unit type codes.
func WithPeriodInterval(period, interval, unitType int) BuilderOption {
	return func(b *Builder) {
		if period > 0 {
			b.period = period
		}
		if interval > 0 {
			b.interval = interval
		}
		if unitType >= 0 {
			b.unitType = unitType
		}
	}
}

// NewBuilder constructs a builder with daily period, hourly interval, sum totals and a +03:00 offset.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		providerKey:   "testDemo",
		offsetMinutes: 180,
		totalMode:     TotalSum,
		valueSource:   ValueModel,
		period:        1,
		interval:      1,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Location returns the fixed zone the builder renders timestamps in.
func (b *Builder) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+03d:%02d", b.offsetMinutes/60, abs(b.offsetMinutes%60)), b.offsetMinutes*60)
}

// Build shapes one customer/day. It does not validate the hour count; Request.Validate does.
func (b *Builder) Build(in BuildInput) (Request, error) {
	if in.FacilityID <= 0 {
		return Request{}, ErrInvalidFacility
	}
	if in.Day.IsZero() {
		return Request{}, ErrInvalidDay
	}
	if len(in.Records) == 0 {
		return Request{}, ErrNoRecords
	}

	records := append([]Record(nil), in.Records...)
	sort.SliceStable(records, func(i, j int) bool { return records[i].PredictionTS.Before(records[j].PredictionTS) })

	hours := make([]Hour, 0, len(records))
	for idx, record := range records {
		value, err := b.value(record)
		if err != nil {
			return Request{}, err
		}
		start := record.PredictionTS
		hours = append(hours, Hour{
			IsUpdated:           false,
			DeliveryStart:       start.Format(DeliveryLayout),
			DeliveryEnd:         start.Add(time.Hour).Format(DeliveryLayout),
			DeliveryStartOffset: b.offsetMinutes,
			DeliveryEndOffset:   b.offsetMinutes,
			Order:               idx + 1,
			Value:               Round2(value),
		})
	}

	return Request{
		GroupID:  in.GroupID,
		UserID:   in.UserID,
		Period:   b.period,
		Interval: b.interval,
		ForecastDataList: []Data{
			{
				UnitType:    b.unitType,
				UnitNo:      in.FacilityID,
				ProviderKey: b.providerKey,
				Total:       Total(hours, b.totalMode),
				IsUpdated:   false,
				ForecastDay: in.Day.Format(DayLayout),
				Forecasts:   hours,
			},
		},
	}, nil
}

func (b *Builder) value(record Record) (float64, error) {
	if b.valueSource == ValueCustomer {
		if record.CustomerPred == nil {
			return 0, errors.New("forecast: missing customer prediction at " + record.PredictionTS.Format(DeliveryLayout))
		}
		return *record.CustomerPred, nil
	}
	return record.ModelPred, nil
}

// SampleRecords generates a deterministic 24-hour day for exercising the API without a database.
func SampleRecords(customer string, day time.Time) []Record {
	day = DayStart(day)
	records := make([]Record, 0, HoursPerDay)
	for hour := 0; hour < HoursPerDay; hour++ {
		records = append(records, Record{
			CustomerName: customer,
			PredictionTS: day.Add(time.Duration(hour) * time.Hour),
			ModelPred:    float64(50 + hour*2 + (hour%3)*5),
		})
	}
	return records
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
