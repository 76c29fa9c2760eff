package app

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr           string
	DownloadRoot       string
	SegmentDurationSec int
	SwarmPortLow       int
	SwarmPortHigh      int
	MaxRetries         int
	RetryCooldownSec   int
	SeedReapAfterSec   int
	EvictAfterDays     int
	FFMPEGPath         string
	FFProbePath        string
	MongoURI           string
	MongoDatabase      string
	MongoCollection    string
	LogLevel           string
	LogFormat          string
	CORSAllowedOrigins []string // parsed from CORS_ALLOWED_ORIGINS; the HTTP CORS middleware does not filter by it and echoes any request Origin
}

func LoadConfig() Config {
	low, high := parsePortRange(getEnv("SWARM_PORT_RANGE", "6881-6891"), 6881, 6891)
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		DownloadRoot:       getEnv("DOWNLOAD_ROOT", "data/movies"),
		SegmentDurationSec: int(getEnvInt64("SEGMENT_DURATION_SEC", 10)),
		SwarmPortLow:       low,
		SwarmPortHigh:      high,
		MaxRetries:         int(getEnvInt64("MAX_RETRIES", 3)),
		RetryCooldownSec:   int(getEnvInt64("RETRY_COOLDOWN_SEC", 30)),
		SeedReapAfterSec:   int(getEnvInt64("SEED_REAP_AFTER_SEC", 3600)),
		EvictAfterDays:     int(getEnvInt64("EVICT_AFTER_DAYS", 30)),
		FFMPEGPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:        getEnv("FFPROBE_PATH", "ffprobe"),
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:      getEnv("MONGO_DB", "streamcore"),
		MongoCollection:    getEnv("MONGO_COLLECTION", "movie_assets"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		CORSAllowedOrigins: parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

func parsePortRange(s string, fallbackLow, fallbackHigh int) (int, int) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return fallbackLow, fallbackHigh
	}
	low, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	high, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || low <= 0 || high < low {
		return fallbackLow, fallbackHigh
	}
	return low, high
}

func parseCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}
