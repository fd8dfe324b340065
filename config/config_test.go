package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServices(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[ServiceMode]bool
		wantErr bool
	}{
		{
			name:  "single service",
			input: "worker",
			want:  map[ServiceMode]bool{ServiceModeWorker: true},
		},
		{
			name:  "multiple services",
			input: "worker,sweeper",
			want:  map[ServiceMode]bool{ServiceModeWorker: true, ServiceModeSweeper: true},
		},
		{
			name:  "whitespace tolerated",
			input: " worker , sweeper ",
			want:  map[ServiceMode]bool{ServiceModeWorker: true, ServiceModeSweeper: true},
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "invalid name",
			input:   "worker,http",
			wantErr: true,
		},
		{
			name:    "only separators",
			input:   " , ,",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServices(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppConfig_ServiceHelpers(t *testing.T) {
	cfg := AppConfig{Services: "worker,sweeper"}
	assert.True(t, cfg.IsWorkerEnabled())
	assert.True(t, cfg.IsSweeperEnabled())

	cfg.Services = "sweeper"
	assert.False(t, cfg.IsWorkerEnabled())
	assert.True(t, cfg.IsSweeperEnabled())

	cfg.Services = "bogus"
	assert.False(t, cfg.IsWorkerEnabled())
	assert.False(t, cfg.IsSweeperEnabled())
}

func TestWorkerConfig_Sanitize(t *testing.T) {
	w := WorkerConfig{Concurrency: 0}
	w.Sanitize()
	assert.Equal(t, 1, w.Concurrency)

	w = WorkerConfig{Concurrency: 8}
	w.Sanitize()
	assert.Equal(t, 8, w.Concurrency)
}

func TestSweeperConfig_Sanitize(t *testing.T) {
	s := SweeperConfig{
		Interval:      time.Second,
		PendingMaxAge: time.Second,
		BatchSize:     0,
	}
	s.Sanitize()
	assert.Equal(t, 10*time.Second, s.Interval)
	assert.Equal(t, time.Minute, s.PendingMaxAge)
	assert.Equal(t, 1, s.BatchSize)

	s = SweeperConfig{
		Interval:      5 * time.Minute,
		PendingMaxAge: time.Hour,
		BatchSize:     50000,
	}
	s.Sanitize()
	assert.Equal(t, 5*time.Minute, s.Interval)
	assert.Equal(t, time.Hour, s.PendingMaxAge)
	assert.Equal(t, 10000, s.BatchSize)
}

func TestQueueConfig_Sanitize(t *testing.T) {
	q := QueueConfig{HistoryLimit: 0}
	q.Sanitize()
	assert.Equal(t, int64(200), q.HistoryLimit)

	q = QueueConfig{HistoryLimit: 50}
	q.Sanitize()
	assert.Equal(t, int64(50), q.HistoryLimit)
}

func TestAppConfig_DetectDevMode(t *testing.T) {
	t.Setenv("NODE_ENV", "development")
	cfg := AppConfig{}
	cfg.Sanitize()
	assert.True(t, cfg.IsDev)

	t.Setenv("NODE_ENV", "production")
	cfg = AppConfig{}
	cfg.Sanitize()
	assert.False(t, cfg.IsDev)

	// Explicit DEV=true wins regardless of NODE_ENV.
	cfg = AppConfig{IsDev: true}
	cfg.Sanitize()
	assert.True(t, cfg.IsDev)
}
