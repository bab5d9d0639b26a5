// Package writer serializes reconciled daily series to parquet and ships
// them to S3, or to a local directory when S3 is disabled.
package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "barflow/config"
	"barflow/logger"
	"barflow/models"
)

// BarRecord is the parquet row layout for one daily bar.
type BarRecord struct {
	Sid          int64   `parquet:"name=sid, type=INT64"`
	Symbol       string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Date         int64   `parquet:"name=date, type=INT64"`
	Open         float64 `parquet:"name=open, type=DOUBLE"`
	High         float64 `parquet:"name=high, type=DOUBLE"`
	Low          float64 `parquet:"name=low, type=DOUBLE"`
	Close        float64 `parquet:"name=close, type=DOUBLE"`
	Volume       int64   `parquet:"name=volume, type=INT64"`
	SplitFactor  float64 `parquet:"name=split_factor, type=DOUBLE"`
	DividendCash float64 `parquet:"name=dividend_cash, type=DOUBLE"`
}

// BarWriter is the sink for reconciled series.
type BarWriter interface {
	WriteBars(ctx context.Context, series *models.ReconciledSeries) error
}

// memoryFileWriter implements the ParquetFile interface for in-memory writing
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Open(name string) (source.ParquetFile, error) {
	return mfw, nil
}

func (mfw *memoryFileWriter) Seek(offset int64, whence int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error) {
	return mfw.buffer.Read(b)
}

func (mfw *memoryFileWriter) Write(b []byte) (int, error) {
	return mfw.buffer.Write(b)
}

func (mfw *memoryFileWriter) Close() error {
	return nil
}

func (mfw *memoryFileWriter) Bytes() []byte {
	return mfw.buffer.Bytes()
}

// ParquetSink writes one parquet object per symbol per run.
type ParquetSink struct {
	config   *appconfig.Config
	s3Client *s3.Client
	log      *logger.Log
}

// NewParquetSink builds the sink. The S3 client is constructed only when S3
// storage is enabled; otherwise series land under the local directory.
func NewParquetSink(ctx context.Context, cfg *appconfig.Config) (*ParquetSink, error) {
	log := logger.GetLogger()

	sink := &ParquetSink{
		config: cfg,
		log:    log,
	}

	if !cfg.Storage.S3.Enabled {
		if cfg.Storage.Local.Directory == "" {
			return nil, fmt.Errorf("writer: s3 disabled and no local directory configured")
		}
		if err := os.MkdirAll(cfg.Storage.Local.Directory, 0o755); err != nil {
			return nil, fmt.Errorf("writer: create local directory: %w", err)
		}
		log.WithComponent("bar_writer").WithFields(logger.Fields{
			"directory": cfg.Storage.Local.Directory,
		}).Info("bar writer initialized in local mode")
		return sink, nil
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Storage.S3.Region),
	}
	if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.Storage.S3.AccessKeyID,
				cfg.Storage.S3.SecretAccessKey,
				"",
			),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("writer: load AWS configuration: %w", err)
	}

	creds, err := awsConfig.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("writer: aws credentials not found")
	}

	sink.s3Client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Storage.S3.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
		}
		o.UsePathStyle = cfg.Storage.S3.PathStyle
	})

	log.WithComponent("bar_writer").WithFields(logger.Fields{
		"bucket":     cfg.Storage.S3.Bucket,
		"region":     cfg.Storage.S3.Region,
		"endpoint":   cfg.Storage.S3.Endpoint,
		"path_style": cfg.Storage.S3.PathStyle,
	}).Info("bar writer initialized")

	return sink, nil
}

// WriteBars serializes the series and stores it at its partition key.
func (w *ParquetSink) WriteBars(ctx context.Context, series *models.ReconciledSeries) error {
	if len(series.Rows) == 0 {
		return nil
	}

	log := w.log.WithComponent("bar_writer").WithFields(logger.Fields{
		"symbol": series.Symbol,
		"sid":    series.Sid,
		"rows":   len(series.Rows),
	})

	data, err := w.createParquetFile(series)
	if err != nil {
		return fmt.Errorf("writer: create parquet for %s: %w", series.Symbol, err)
	}

	key := w.objectKey(series)
	if w.s3Client != nil {
		if err := w.uploadToS3(ctx, key, data); err != nil {
			return fmt.Errorf("writer: upload %s: %w", key, err)
		}
	} else {
		path := filepath.Join(w.config.Storage.Local.Directory, filepath.FromSlash(key))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("writer: create partition directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writer: write %s: %w", path, err)
		}
	}

	log.WithFields(logger.Fields{
		"key":       key,
		"file_size": len(data),
	}).Info("series written")

	return nil
}

// objectKey builds a hive-style partition path under the daily prefix.
func (w *ParquetSink) objectKey(series *models.ReconciledSeries) string {
	last := series.LastDate()
	filename := fmt.Sprintf("%s_%s.parquet", series.Symbol, uuid.New().String())
	key := filepath.Join(
		"daily",
		fmt.Sprintf("symbol=%s", series.Symbol),
		fmt.Sprintf("year=%04d", last.Year()),
		filename,
	)
	return filepath.ToSlash(key)
}

func (w *ParquetSink) createParquetFile(series *models.ReconciledSeries) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(BarRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}

	switch w.config.Ingest.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	case "lzo":
		pw.CompressionType = parquet.CompressionCodec_LZO
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, row := range series.Rows {
		record := BarRecord{
			Sid:          series.Sid,
			Symbol:       series.Symbol,
			Date:         row.Date.UnixMilli(),
			Open:         row.Open,
			High:         row.High,
			Low:          row.Low,
			Close:        row.Close,
			Volume:       row.Volume,
			SplitFactor:  row.SplitFactor,
			DividendCash: row.DividendCash,
		}
		if err := pw.Write(record); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet writing: %w", err)
	}

	return fw.Bytes(), nil
}

func (w *ParquetSink) uploadToS3(ctx context.Context, key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.config.Storage.S3.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":    "parquet",
			"compression":     w.config.Ingest.Compression,
			"barflow-version": w.config.Barflow.Version,
		},
	}

	_, err := w.s3Client.PutObject(ctx, input)
	return err
}
