package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestConfigureRejectsBadLevel(t *testing.T) {
	log := Logger()
	if err := log.Configure("nope", "json", "stdout", 0); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestConfigureRejectsBadFormat(t *testing.T) {
	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatal("expected error for invalid format")
	}
}

func TestWithComponentField(t *testing.T) {
	log := Logger()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetLevel(logrus.InfoLevel)

	log.WithComponent("reconciler").WithFields(Fields{"symbol": "AAPL"}).Info("aligned")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%s)", err, buf.String())
	}
	if entry["component"] != "reconciler" || entry["symbol"] != "AAPL" {
		t.Fatalf("missing fields in entry: %v", entry)
	}
	if entry["message"] != "aligned" {
		t.Fatalf("unexpected message: %v", entry["message"])
	}
}
