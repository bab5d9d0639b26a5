package writer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	appconfig "barflow/config"
	"barflow/models"
)

func localConfig(dir string) *appconfig.Config {
	return &appconfig.Config{
		Barflow: appconfig.BarflowConfig{Name: "barflow", Version: "test"},
		Ingest:  appconfig.IngestConfig{Compression: "snappy"},
		Storage: appconfig.StorageConfig{
			Local: appconfig.LocalConfig{Directory: dir},
		},
	}
}

func sampleSeries() *models.ReconciledSeries {
	return &models.ReconciledSeries{
		Symbol: "AAPL",
		Sid:    7,
		Rows: []models.RawObservation{
			{
				Date:        time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
				Open:        100,
				High:        102,
				Low:         99,
				Close:       101,
				Volume:      5000,
				SplitFactor: 1.0,
			},
			{
				Date:        time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC),
				Open:        101,
				High:        103,
				Low:         100,
				Close:       102,
				Volume:      6000,
				SplitFactor: 1.0,
			},
		},
	}
}

func TestObjectKeyLayout(t *testing.T) {
	sink := &ParquetSink{config: localConfig(t.TempDir())}
	key := sink.objectKey(sampleSeries())

	if !strings.HasPrefix(key, "daily/symbol=AAPL/year=2023/") {
		t.Errorf("key = %s, want daily/symbol=AAPL/year=2023/ prefix", key)
	}
	if !strings.HasSuffix(key, ".parquet") {
		t.Errorf("key = %s, want .parquet suffix", key)
	}
	if strings.Contains(key, "\\") {
		t.Errorf("key %s contains backslash", key)
	}
}

func TestObjectKeysUnique(t *testing.T) {
	sink := &ParquetSink{config: localConfig(t.TempDir())}
	series := sampleSeries()
	if sink.objectKey(series) == sink.objectKey(series) {
		t.Error("expected distinct keys for repeated writes of the same series")
	}
}

func TestWriteBarsLocal(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewParquetSink(context.Background(), localConfig(dir))
	if err != nil {
		t.Fatalf("NewParquetSink failed: %v", err)
	}

	if err := sink.WriteBars(context.Background(), sampleSeries()); err != nil {
		t.Fatalf("WriteBars failed: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "daily", "symbol=AAPL", "year=2023", "*.parquet"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("got %d parquet files, want 1", len(matches))
	}
	info, err := os.Stat(matches[0])
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Size() == 0 {
		t.Error("parquet file is empty")
	}
}

func TestWriteBarsSkipsEmptySeries(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewParquetSink(context.Background(), localConfig(dir))
	if err != nil {
		t.Fatalf("NewParquetSink failed: %v", err)
	}

	err = sink.WriteBars(context.Background(), &models.ReconciledSeries{Symbol: "EMPTY"})
	if err != nil {
		t.Fatalf("WriteBars failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no files for empty series, found %d entries", len(entries))
	}
}

func TestNewParquetSinkRequiresDirectory(t *testing.T) {
	cfg := localConfig("")
	if _, err := NewParquetSink(context.Background(), cfg); err == nil {
		t.Fatal("expected error when s3 disabled and directory empty")
	}
}
