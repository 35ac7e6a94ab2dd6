package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
)

//go:embed geopoints.yaml
var defaultGeoPoints []byte

type geoPointFile struct {
	GeoPoints []collector.GeoPoint `yaml:"geopoints" validate:"required,min=1,unique=ID,dive"`
}

// LoadGeoPoints reads geo-points from path, or the built-in Copenhagen list
// when path is empty.
func LoadGeoPoints(path string) ([]collector.GeoPoint, error) {
	data := defaultGeoPoints
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read geo-points file: %w", err)
		}
		data = b
	}
	return ParseGeoPoints(data)
}

// ParseGeoPoints decodes and validates a geo-points YAML document.
func ParseGeoPoints(data []byte) ([]collector.GeoPoint, error) {
	var f geoPointFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode geo-points: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid geo-points: %w", err)
	}
	return f.GeoPoints, nil
}
