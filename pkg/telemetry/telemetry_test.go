package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func jsonLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestReporter_FlattensMapFields(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewReporter(NewLoggerTo(&buf, LoggingConfig{Level: "debug", Format: "json"}))

	reporter.Info("Wrote file.", map[string]any{"file": "src/index.ts"})

	lines := jsonLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	if lines[0]["file"] != "src/index.ts" {
		t.Errorf("Expected flattened file field, got %v", lines[0])
	}
	if lines[0]["level"] != "info" {
		t.Errorf("Expected info level, got %v", lines[0]["level"])
	}
}

func TestReporter_ChildExtendsNamespace(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewReporter(NewLoggerTo(&buf, LoggingConfig{Level: "debug", Format: "json"}))

	child := reporter.Child("generate").Child("builder.manifest")
	child.Warn("Pipeline diagnostic reported.", struct {
		Type string `json:"type"`
	}{Type: "unused-helper"})

	lines := jsonLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(lines))
	}
	if lines[0]["namespace"] != "generate.builder.manifest" {
		t.Errorf("Unexpected namespace: %v", lines[0]["namespace"])
	}
	ctx, ok := lines[0]["context"].(map[string]any)
	if !ok || ctx["type"] != "unused-helper" {
		t.Errorf("Expected structured context, got %v", lines[0]["context"])
	}
}

func TestReporter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewReporter(NewLoggerTo(&buf, LoggingConfig{Level: "warn", Format: "json"}))

	reporter.Debug("hidden", nil)
	reporter.Info("hidden", nil)
	reporter.Error("shown", nil)

	if lines := jsonLines(t, &buf); len(lines) != 1 {
		t.Errorf("Expected only the error line, got %d", len(lines))
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "otlp without endpoint", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, wantErr: true},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "wpk"})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.RecordRun("generate", "success", 150*time.Millisecond)
	m.RecordPatchRecords("conflict", 2)
	m.RecordDiagnostic("unused-helper")

	path := filepath.Join(t.TempDir(), "wpk.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	for _, want := range []string{
		`wpk_runs_total{command="generate",status="success"} 1`,
		`wpk_patch_records_total{status="conflict"} 2`,
		`wpk_pipeline_diagnostics_total{type="unused-helper"} 1`,
		`wpk_last_run_success{command="generate"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("Expected textfile to contain %q", want)
		}
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	m.RecordRun("apply", "failed", time.Second)
	path := filepath.Join(t.TempDir(), "wpk.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Expected no textfile for disabled metrics")
	}
}

func TestTracer_CommandSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracer := NewTracerWithExporter(exporter, "wpk")

	_, span := tracer.StartCommandSpan(context.Background(), "generate")
	span.SetAttributes(AttrRunID.String("run-1"))
	RecordError(span, errors.New("boom"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "wpk.generate" {
		t.Errorf("Unexpected span name %q", spans[0].Name)
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("Expected error status, got %v", spans[0].Status.Code)
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
