package districts

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/kjstillabower/weather-sync/internal/models"
)

// DefaultQuery selects the registry from the districts table. Integer ids are cast
// to text; ordering uses the table column so ids sort numerically.
const DefaultQuery = `
SELECT id::text AS id, name, latitude, longitude
FROM districts
ORDER BY districts.id
`

// PostgresSource lists districts with a single query.
type PostgresSource struct {
	db    *sqlx.DB
	query string
}

// NewPostgresSource reads districts from db. An empty query uses DefaultQuery; a custom
// query must return id, name, latitude and longitude columns.
func NewPostgresSource(db *sql.DB, query string) *PostgresSource {
	if query == "" {
		query = DefaultQuery
	}
	return &PostgresSource{db: sqlx.NewDb(db, "postgres"), query: query}
}

// List implements Source.
func (p *PostgresSource) List(ctx context.Context) ([]models.District, error) {
	rows := []models.District{}
	if err := p.db.SelectContext(ctx, &rows, p.query); err != nil {
		return nil, fmt.Errorf("query districts: %w", err)
	}
	if err := checkIDs(rows); err != nil {
		return nil, err
	}
	return rows, nil
}
