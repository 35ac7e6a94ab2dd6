// Package lake writes each record as a parquet object to S3-compatible storage.
package lake

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/allanreda/Copenhagen-Traffic-and-Weather-ETL-Pipeline/internal/collector"
)

// Config holds the object storage settings.
type Config struct {
	Endpoint    string
	AccessKey   string
	SecretKey   string
	UseTLS      bool
	Bucket      string
	Prefix      string // usually the dataset name
	Compression string // SNAPPY, GZIP or ZSTD
	TempDir     string
}

// Store uploads one object per record. Objects are never overwritten since
// every name carries a fresh uuid.
type Store struct {
	mc  *minio.Client
	cfg Config
	now func() time.Time
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	s := &Store{mc: mc, cfg: cfg, now: time.Now}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	exists, err := s.mc.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.cfg.Bucket, err)
	}
	if !exists {
		if err := s.mc.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.cfg.Bucket, err)
		}
	}
	return nil
}

// Export writes rec to a temporary parquet file and uploads it.
func (s *Store) Export(ctx context.Context, table string, rec collector.Record) error {
	name := fmt.Sprintf("part-%d-%s.parquet", s.now().Unix(), uuid.NewString())
	path := filepath.Join(s.cfg.TempDir, name)
	defer os.Remove(path)

	if err := WriteParquet(path, rec, s.cfg.Compression); err != nil {
		return err
	}

	object := ObjectPath(s.cfg.Prefix, table, partitionDate(rec, s.now()), name)
	if _, err := s.mc.FPutObject(ctx, s.cfg.Bucket, object, path, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return fmt.Errorf("upload %s: %w", object, err)
	}
	return nil
}

// WriteParquet writes a single-row parquet file for rec at path.
func WriteParquet(path string, rec collector.Record, compression string) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	pw, err := writer.NewParquetWriter(fw, rec, 1)
	if err != nil {
		_ = fw.Close()
		return fmt.Errorf("parquet writer: %w", err)
	}

	switch strings.ToUpper(compression) {
	case "ZSTD":
		pw.CompressionType = parquet.CompressionCodec_ZSTD
	case "GZIP":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	}

	if err := pw.Write(rec); err != nil {
		_ = pw.WriteStop()
		_ = fw.Close()
		return fmt.Errorf("write row: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return fmt.Errorf("finish parquet: %w", err)
	}
	return fw.Close()
}

// ObjectPath builds prefix/table/date=YYYY-MM-DD/file.
func ObjectPath(prefix, table, date, file string) string {
	p := fmt.Sprintf("%s/date=%s/%s", table, date, file)
	if prefix != "" {
		p = strings.TrimSuffix(prefix, "/") + "/" + p
	}
	return p
}

func partitionDate(rec collector.Record, now time.Time) string {
	switch r := rec.(type) {
	case *collector.TrafficRecord:
		return r.Date
	case *collector.WeatherRecord:
		return r.Date
	}
	return now.Format("2006-01-02")
}

func (s *Store) Close() error { return nil }
