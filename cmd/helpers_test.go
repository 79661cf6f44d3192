package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/support-elt/internal/config"
	"github.com/sells-group/support-elt/internal/ticket"
)

// writeTicketsCSV writes a small export with one rejectable row.
func writeTicketsCSV(t *testing.T) string {
	t.Helper()
	lines := []string{
		strings.Join(ticket.SourceColumns, ","),
		"1,Maria Lopez,maria@example.com,34,Female,GoPro Hero,2021-03-22,Technical issue,Network problem,Closed,Fixed,High,Email,4",
		"2,Jo Smith,,,,Dell XPS,01/02/23,Refund request,Battery life,,,,,",
		"abc,Bad Row,bad@example.com,20,Male,iPhone,2021-01-01,Billing inquiry,Other,Open,,Low,Chat,3",
	}
	path := filepath.Join(t.TempDir(), "tickets.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

// testConfig returns a config that runs against the in-memory store.
func testConfig(location string) *config.Config {
	return &config.Config{
		Store:  config.StoreConfig{Driver: "memory"},
		Source: config.SourceConfig{Location: location, Format: "auto", Delimiter: ","},
		Pipeline: config.PipelineConfig{
			Name:             "elt_pipeline",
			Dataset:          "customer_support",
			Pepper:           "test-pepper",
			StageTimeoutSecs: 30,
			TransformWorkers: 2,
		},
		Lock:     config.LockConfig{Driver: "local", TTLSecs: 60},
		Schedule: config.ScheduleConfig{IntervalMins: 60, MaxAttempts: 1},
		Server:   config.ServerConfig{Port: 8080},
	}
}
