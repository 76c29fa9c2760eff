package app

import (
	"os"
	"testing"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

var allConfigEnvVars = []string{
	"HTTP_ADDR", "DOWNLOAD_ROOT", "SEGMENT_DURATION_SEC", "SWARM_PORT_RANGE",
	"MAX_RETRIES", "RETRY_COOLDOWN_SEC", "SEED_REAP_AFTER_SEC", "EVICT_AFTER_DAYS",
	"FFMPEG_PATH", "FFPROBE_PATH", "MONGO_URI", "MONGO_DB", "MONGO_COLLECTION",
	"LOG_LEVEL", "LOG_FORMAT", "CORS_ALLOWED_ORIGINS",
}

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range allConfigEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg := LoadConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":8080"},
		{"DownloadRoot", cfg.DownloadRoot, "data/movies"},
		{"SegmentDurationSec", cfg.SegmentDurationSec, 10},
		{"SwarmPortLow", cfg.SwarmPortLow, 6881},
		{"SwarmPortHigh", cfg.SwarmPortHigh, 6891},
		{"MaxRetries", cfg.MaxRetries, 3},
		{"RetryCooldownSec", cfg.RetryCooldownSec, 30},
		{"SeedReapAfterSec", cfg.SeedReapAfterSec, 3600},
		{"EvictAfterDays", cfg.EvictAfterDays, 30},
		{"FFMPEGPath", cfg.FFMPEGPath, "ffmpeg"},
		{"FFProbePath", cfg.FFProbePath, "ffprobe"},
		{"MongoURI", cfg.MongoURI, "mongodb://localhost:27017"},
		{"MongoDatabase", cfg.MongoDatabase, "streamcore"},
		{"MongoCollection", cfg.MongoCollection, "movie_assets"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Errorf("CORSAllowedOrigins: got %v, want nil/empty", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	setEnvs(t, map[string]string{
		"HTTP_ADDR":            ":9090",
		"DOWNLOAD_ROOT":        "/mnt/movies",
		"SEGMENT_DURATION_SEC": "600",
		"SWARM_PORT_RANGE":     "7000-7010",
		"MAX_RETRIES":          "5",
		"RETRY_COOLDOWN_SEC":   "15",
		"SEED_REAP_AFTER_SEC":  "1800",
		"EVICT_AFTER_DAYS":     "7",
		"FFMPEG_PATH":          "/usr/bin/ffmpeg",
		"FFPROBE_PATH":         "/usr/bin/ffprobe",
		"MONGO_URI":            "mongodb://remote:27017",
		"MONGO_DB":             "mydb",
		"MONGO_COLLECTION":     "mycollection",
		"LOG_LEVEL":            "DEBUG",
		"LOG_FORMAT":           "JSON",
		"CORS_ALLOWED_ORIGINS": "http://localhost:3000, https://example.com",
	})

	cfg := LoadConfig()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"HTTPAddr", cfg.HTTPAddr, ":9090"},
		{"DownloadRoot", cfg.DownloadRoot, "/mnt/movies"},
		{"SegmentDurationSec", cfg.SegmentDurationSec, 600},
		{"SwarmPortLow", cfg.SwarmPortLow, 7000},
		{"SwarmPortHigh", cfg.SwarmPortHigh, 7010},
		{"MaxRetries", cfg.MaxRetries, 5},
		{"RetryCooldownSec", cfg.RetryCooldownSec, 15},
		{"SeedReapAfterSec", cfg.SeedReapAfterSec, 1800},
		{"EvictAfterDays", cfg.EvictAfterDays, 7},
		{"FFMPEGPath", cfg.FFMPEGPath, "/usr/bin/ffmpeg"},
		{"FFProbePath", cfg.FFProbePath, "/usr/bin/ffprobe"},
		{"MongoURI", cfg.MongoURI, "mongodb://remote:27017"},
		{"MongoDatabase", cfg.MongoDatabase, "mydb"},
		{"MongoCollection", cfg.MongoCollection, "mycollection"},
		{"LogLevel", cfg.LogLevel, "debug"},
		{"LogFormat", cfg.LogFormat, "json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v (%T), want %v (%T)", tt.got, tt.got, tt.want, tt.want)
			}
		})
	}

	wantOrigins := []string{"http://localhost:3000", "https://example.com"}
	if len(cfg.CORSAllowedOrigins) != len(wantOrigins) {
		t.Fatalf("CORSAllowedOrigins: got %d entries, want %d", len(cfg.CORSAllowedOrigins), len(wantOrigins))
	}
	for i, got := range cfg.CORSAllowedOrigins {
		if got != wantOrigins[i] {
			t.Errorf("CORSAllowedOrigins[%d]: got %q, want %q", i, got, wantOrigins[i])
		}
	}
}

func TestParsePortRangeInvalidFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantLow  int
		wantHigh int
	}{
		{"well formed", "6881-6891", 6881, 6891},
		{"no dash", "6881", 1, 2},
		{"reversed", "6891-6881", 1, 2},
		{"non-numeric", "abc-def", 1, 2},
		{"zero low", "0-100", 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			low, high := parsePortRange(tt.input, 1, 2)
			if low != tt.wantLow || high != tt.wantHigh {
				t.Errorf("parsePortRange(%q) = (%d,%d), want (%d,%d)", tt.input, low, high, tt.wantLow, tt.wantHigh)
			}
		})
	}
}

func TestGetEnvInt64InvalidFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		envVal   string
		fallback int64
		want     int64
	}{
		{"empty string", "", 42, 42},
		{"not a number", "abc", 42, 42},
		{"negative number", "-5", 42, 42},
		{"zero", "0", 42, 0},
		{"valid positive", "100", 42, 100},
		{"whitespace around number", "  50  ", 42, 50},
		{"float", "3.14", 42, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_INT_VAR", tt.envVal)
			got := getEnvInt64("TEST_INT_VAR", tt.fallback)
			if got != tt.want {
				t.Errorf("getEnvInt64(%q, %d) = %d, want %d", tt.envVal, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestParseCSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty string", "", nil},
		{"whitespace only", "   ", nil},
		{"single value", "http://localhost:3000", []string{"http://localhost:3000"}},
		{"multiple values", "a,b,c", []string{"a", "b", "c"}},
		{"values with spaces", " a , b , c ", []string{"a", "b", "c"}},
		{"trailing comma", "a,b,", []string{"a", "b"}},
		{"empty entries filtered", "a,,b,,c", []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCSV(tt.input)
			if tt.want == nil {
				if got != nil {
					t.Errorf("parseCSV(%q) = %v, want nil", tt.input, got)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseCSV(%q) returned %d elements, want %d", tt.input, len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("parseCSV(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGetEnvFallback(t *testing.T) {
	t.Setenv("TEST_EXISTING", "hello")

	if got := getEnv("TEST_EXISTING", "default"); got != "hello" {
		t.Errorf("getEnv(existing) = %q, want %q", got, "hello")
	}

	t.Setenv("TEST_MISSING_XYZ", "")
	os.Unsetenv("TEST_MISSING_XYZ")
	if got := getEnv("TEST_MISSING_XYZ", "default"); got != "default" {
		t.Errorf("getEnv(missing) = %q, want %q", got, "default")
	}
}

func TestLogLevelCaseInsensitive(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	cfg := LoadConfig()
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.LogLevel, "debug")
	}

	t.Setenv("LOG_LEVEL", "Warn")
	cfg = LoadConfig()
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel: got %q, want %q", cfg.LogLevel, "warn")
	}
}
