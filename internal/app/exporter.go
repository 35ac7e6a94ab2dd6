package app

import (
	"context"
	"fmt"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/config"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/store"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/store/bqstore"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/store/influx"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/store/lake"
	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/store/sqlstore"
)

// NewExporter opens the store selected by STORE_TYPE.
func NewExporter(ctx context.Context, cfg config.StoreConfig) (Exporter, error) {
	switch cfg.Type {
	case "memory":
		return store.NewMemoryStore(cfg.MemoryMaxRows), nil

	case "bigquery":
		return bqstore.New(ctx, cfg.BigQueryProject, cfg.Dataset, bqstore.Method(cfg.BigQueryMethod))

	case "sql":
		dialect, err := sqlstore.ParseDialect(cfg.SQLDialect)
		if err != nil {
			return nil, err
		}
		s, err := sqlstore.Open(ctx, dialect, cfg.SQLDSN)
		if err != nil {
			return nil, err
		}
		if cfg.SQLMigrate {
			if err := s.Migrate(); err != nil {
				_ = s.Close()
				return nil, err
			}
		}
		return s, nil

	case "lake":
		return lake.New(ctx, lake.Config{
			Endpoint:    cfg.MinIOEndpoint,
			AccessKey:   cfg.MinIOAccessKey,
			SecretKey:   cfg.MinIOSecretKey,
			UseTLS:      cfg.MinIOUseTLS,
			Bucket:      cfg.MinIOBucket,
			Prefix:      cfg.Dataset,
			Compression: cfg.ParquetCompression,
		})

	case "influx":
		return influx.New(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket), nil

	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}
