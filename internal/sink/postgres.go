package sink

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kjstillabower/weather-sync/internal/models"
)

// DefaultTable is the weather table name.
const DefaultTable = "weather"

// jsonArray stores a slice in a jsonb column. A nil slice is NULL.
type jsonArray[T any] []T

// Value implements driver.Valuer.
func (a jsonArray[T]) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal([]T(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *jsonArray[T]) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		return json.Unmarshal(v, (*[]T)(a))
	case string:
		return json.Unmarshal([]byte(v), (*[]T)(a))
	default:
		return fmt.Errorf("sink: cannot scan type %T into jsonArray", src)
	}
}

type weatherRow struct {
	DistrictID     string                        `db:"district_id"`
	Temperature    *float64                      `db:"temperature"`
	Humidity       *float64                      `db:"humidity"`
	WindSpeed      *float64                      `db:"wind_speed"`
	WindDirection  *float64                      `db:"wind_direction"`
	Pressure       *float64                      `db:"pressure"`
	Visibility     *int                          `db:"visibility"`
	WeatherDesc    *string                       `db:"weather_desc"`
	AirPollution   *string                       `db:"air_pollution"`
	HourlyForecast jsonArray[models.HourlyPoint] `db:"hourly_forecast"`
	DailyForecast  jsonArray[models.DailyPoint]  `db:"daily_forecast"`
	UpdatedAt      time.Time                     `db:"updated_at"`
}

func toRow(districtID string, rec models.WeatherRecord) weatherRow {
	return weatherRow{
		DistrictID:     districtID,
		Temperature:    rec.Temperature,
		Humidity:       rec.Humidity,
		WindSpeed:      rec.WindSpeed,
		WindDirection:  rec.WindDirection,
		Pressure:       rec.Pressure,
		Visibility:     rec.Visibility,
		WeatherDesc:    rec.WeatherDesc,
		AirPollution:   rec.AirPollution,
		HourlyForecast: rec.HourlyForecast,
		DailyForecast:  rec.DailyForecast,
		UpdatedAt:      rec.UpdatedAt.UTC(),
	}
}

func (r weatherRow) record() models.WeatherRecord {
	return models.WeatherRecord{
		Temperature:    r.Temperature,
		Humidity:       r.Humidity,
		WindSpeed:      r.WindSpeed,
		WindDirection:  r.WindDirection,
		Pressure:       r.Pressure,
		Visibility:     r.Visibility,
		WeatherDesc:    r.WeatherDesc,
		AirPollution:   r.AirPollution,
		HourlyForecast: r.HourlyForecast,
		DailyForecast:  r.DailyForecast,
		UpdatedAt:      r.UpdatedAt,
	}
}

// PostgresSink upserts one row per district with ON CONFLICT DO UPDATE.
type PostgresSink struct {
	db    *sqlx.DB
	table string
}

// NewPostgresSink uses db for writes to table (DefaultTable when empty).
func NewPostgresSink(db *sql.DB, table string) *PostgresSink {
	if table == "" {
		table = DefaultTable
	}
	return &PostgresSink{db: sqlx.NewDb(db, "postgres"), table: pq.QuoteIdentifier(table)}
}

// EnsureSchema creates the weather table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  district_id TEXT PRIMARY KEY,
  temperature DOUBLE PRECISION,
  humidity DOUBLE PRECISION,
  wind_speed DOUBLE PRECISION,
  wind_direction DOUBLE PRECISION,
  pressure DOUBLE PRECISION,
  visibility INTEGER,
  weather_desc TEXT,
  air_pollution TEXT,
  hourly_forecast JSONB,
  daily_forecast JSONB,
  updated_at TIMESTAMPTZ NOT NULL
);
`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Upsert implements Sink. Every column is replaced.
func (s *PostgresSink) Upsert(ctx context.Context, districtID string, rec models.WeatherRecord) error {
	stmt := fmt.Sprintf(`
INSERT INTO %s (district_id, temperature, humidity, wind_speed, wind_direction, pressure, visibility, weather_desc, air_pollution, hourly_forecast, daily_forecast, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb,$11::jsonb,$12)
ON CONFLICT (district_id) DO UPDATE SET
 temperature=EXCLUDED.temperature,
 humidity=EXCLUDED.humidity,
 wind_speed=EXCLUDED.wind_speed,
 wind_direction=EXCLUDED.wind_direction,
 pressure=EXCLUDED.pressure,
 visibility=EXCLUDED.visibility,
 weather_desc=EXCLUDED.weather_desc,
 air_pollution=EXCLUDED.air_pollution,
 hourly_forecast=EXCLUDED.hourly_forecast,
 daily_forecast=EXCLUDED.daily_forecast,
 updated_at=EXCLUDED.updated_at;
`, s.table)

	r := toRow(districtID, rec)
	_, err := s.db.ExecContext(ctx, stmt,
		r.DistrictID,
		r.Temperature,
		r.Humidity,
		r.WindSpeed,
		r.WindDirection,
		r.Pressure,
		r.Visibility,
		r.WeatherDesc,
		r.AirPollution,
		r.HourlyForecast,
		r.DailyForecast,
		r.UpdatedAt,
	)
	if err != nil {
		return writeError(districtID, err)
	}
	return nil
}

// Get returns the stored record. ok is false when no row exists.
func (s *PostgresSink) Get(ctx context.Context, districtID string) (models.WeatherRecord, bool, error) {
	query := fmt.Sprintf(`
SELECT district_id, temperature, humidity, wind_speed, wind_direction, pressure, visibility, weather_desc, air_pollution, hourly_forecast, daily_forecast, updated_at
FROM %s
WHERE district_id = $1
`, s.table)

	var row weatherRow
	if err := s.db.GetContext(ctx, &row, query, districtID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.WeatherRecord{}, false, nil
		}
		return models.WeatherRecord{}, false, err
	}
	return row.record(), true, nil
}
