// Package districts reads the registry of tracked districts.
package districts

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-sync/internal/models"
)

// ErrInvalidRegistry is returned when the registry can be read but its content is unusable.
var ErrInvalidRegistry = errors.New("invalid district registry")

// Source yields the full district set for one run.
type Source interface {
	List(ctx context.Context) ([]models.District, error)
}

// StaticSource serves a fixed slice.
type StaticSource []models.District

// List implements Source.
func (s StaticSource) List(ctx context.Context) ([]models.District, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]models.District(nil), s...), nil
}

// FileSource reads districts from a YAML file:
//
//	districts:
//	  - id: "1"
//	    name: "Bengaluru Urban"
//	    latitude: 12.97
//	    longitude: 77.59
type FileSource struct {
	Path string
}

type registryFile struct {
	Districts []models.District `yaml:"districts"`
}

// List implements Source. The file is re-read on every call.
func (f FileSource) List(ctx context.Context) ([]models.District, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read district file: %w", err)
	}
	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidRegistry, f.Path, err)
	}
	if err := checkIDs(rf.Districts); err != nil {
		return nil, err
	}
	return rf.Districts, nil
}

// checkIDs rejects registries with blank or repeated ids; either would break one-row-per-district.
func checkIDs(ds []models.District) error {
	seen := make(map[string]struct{}, len(ds))
	for i, d := range ds {
		if d.ID == "" {
			return fmt.Errorf("%w: district at position %d has no id", ErrInvalidRegistry, i)
		}
		if _, dup := seen[d.ID]; dup {
			return fmt.Errorf("%w: duplicate district id %q", ErrInvalidRegistry, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}
