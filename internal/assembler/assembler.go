// Package assembler turns the outcome of a district's provider calls into the
// full replacement record written to the sink.
package assembler

import (
	"time"

	"github.com/kjstillabower/weather-sync/internal/models"
)

// FailedDescription marks a record whose weather fetch was attempted and failed.
const FailedDescription = "*"

const (
	maxHourly = 24
	maxDaily  = 8
)

// Completeness summarizes which parts of a record were populated.
type Completeness int

const (
	Complete Completeness = iota
	Partial
	Failed
)

func (c Completeness) String() string {
	switch c {
	case Complete:
		return "complete"
	case Partial:
		return "partial"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome holds the provider results for one district. A non-nil error marks
// that part as failed; values are ignored when their error is set.
type Outcome struct {
	Weather       models.RawWeather
	WeatherErr    error
	Forecast      models.RawForecast
	ForecastErr   error
	AirQuality    int
	AirQualityErr error
}

var aqiCategories = map[int]string{
	1: "Good",
	2: "Fair",
	3: "Moderate",
	4: "Poor",
	5: "Very Poor",
}

// AQICategory maps a provider AQI code to its category. Codes outside 1..5 yield nil.
func AQICategory(code int) *string {
	c, ok := aqiCategories[code]
	if !ok {
		return nil
	}
	return &c
}

// Assemble builds the record for o. UpdatedAt is always now.
func Assemble(o Outcome, now time.Time) (models.WeatherRecord, Completeness) {
	rec := models.WeatherRecord{UpdatedAt: now}

	if o.WeatherErr != nil {
		desc := FailedDescription
		rec.WeatherDesc = &desc
		return rec, Failed
	}

	w := o.Weather
	temp := w.Temperature
	rec.Temperature = &temp
	rec.Humidity = w.Humidity
	rec.WindSpeed = w.WindSpeed
	rec.WindDirection = w.WindDirection
	rec.Pressure = w.Pressure
	rec.Visibility = w.Visibility
	rec.WeatherDesc = w.Description

	completeness := Complete
	if o.ForecastErr != nil {
		completeness = Partial
	} else {
		rec.HourlyForecast = truncateHourly(o.Forecast.Hourly)
		rec.DailyForecast = truncateDaily(o.Forecast.Daily)
	}
	if o.AirQualityErr != nil {
		completeness = Partial
	} else {
		rec.AirPollution = AQICategory(o.AirQuality)
	}
	return rec, completeness
}

func truncateHourly(in []models.HourlyPoint) []models.HourlyPoint {
	if in == nil {
		return nil
	}
	if len(in) > maxHourly {
		in = in[:maxHourly]
	}
	return append([]models.HourlyPoint(nil), in...)
}

func truncateDaily(in []models.DailyPoint) []models.DailyPoint {
	if in == nil {
		return nil
	}
	if len(in) > maxDaily {
		in = in[:maxDaily]
	}
	return append([]models.DailyPoint(nil), in...)
}
