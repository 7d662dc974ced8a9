package models

import "time"

// District is a tracked region. Latitude and Longitude are both set or both nil.
type District struct {
	ID        string   `json:"id" yaml:"id" db:"id"`
	Name      string   `json:"name" yaml:"name" db:"name"`
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude" db:"latitude"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude" db:"longitude"`
}

// Coordinates returns the district coordinates when both are present and in range.
func (d District) Coordinates() (Coordinates, bool) {
	if d.Latitude == nil || d.Longitude == nil {
		return Coordinates{}, false
	}
	c := Coordinates{Lat: *d.Latitude, Lon: *d.Longitude}
	if !c.Valid() {
		return Coordinates{}, false
	}
	return c, true
}

// Coordinates is a latitude/longitude pair in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the pair is within WGS84 bounds.
func (c Coordinates) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Target is what a current-weather lookup is keyed on: coordinates when known, else a name.
type Target struct {
	Coords *Coordinates
	Name   string
}

// RawWeather is the normalized current-weather response. Optional provider fields are nil when absent.
type RawWeather struct {
	Temperature   float64
	Humidity      *float64
	WindSpeed     *float64
	WindDirection *float64
	Pressure      *float64
	Visibility    *int
	Description   *string
	Coords        *Coordinates // as resolved by the provider
}

// HourlyPoint is one hourly forecast entry.
type HourlyPoint struct {
	Time        time.Time `json:"time"`
	Temperature float64   `json:"temperature"`
}

// DailyPoint is one daily forecast entry. Date is YYYY-MM-DD in UTC.
type DailyPoint struct {
	Date        string   `json:"date"`
	Temperature *float64 `json:"temperature,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
}

// RawForecast is the normalized forecast response.
type RawForecast struct {
	Hourly []HourlyPoint
	Daily  []DailyPoint
}

// WeatherRecord is the row written to the sink, one per district id.
// Every field except UpdatedAt may be nil.
type WeatherRecord struct {
	Temperature    *float64      `json:"temperature"`
	Humidity       *float64      `json:"humidity"`
	WindSpeed      *float64      `json:"wind_speed"`
	WindDirection  *float64      `json:"wind_direction"`
	Pressure       *float64      `json:"pressure"`
	Visibility     *int          `json:"visibility"`
	WeatherDesc    *string       `json:"weather_desc"`
	AirPollution   *string       `json:"air_pollution"`
	HourlyForecast []HourlyPoint `json:"hourly_forecast"`
	DailyForecast  []DailyPoint  `json:"daily_forecast"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
