package config

import (
	"os"
	"strings"
	"time"
)

// Config is everything the server reads from its environment. An empty
// DatabaseURL selects the in-memory store, which is the development
// fallback; production deployments set DATABASE_URL.
type Config struct {
	ListenAddr  string
	DatabaseURL string

	JWTSecret  string
	RoomSecret []byte

	PatientGrace time.Duration
	ReadWait     time.Duration
	WriteWait    time.Duration

	CORSOrigins []string
	LogLevel    string
}

// Load reads the environment. Missing values fall back to development
// defaults; malformed durations do too rather than taking the server
// down.
func Load() *Config {
	jwtSecret := getenv("SECRET_KEY", "dev-secret-key-change-in-production")

	return &Config{
		ListenAddr:  ":" + getenv("PORT", "8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),

		JWTSecret:  jwtSecret,
		RoomSecret: []byte(getenv("CONSULT_ROOM_SECRET", jwtSecret)),

		PatientGrace: getenvDuration("CONSULT_PATIENT_GRACE", 5*time.Minute),
		ReadWait:     getenvDuration("CONSULT_WS_READ_WAIT", 60*time.Second),
		WriteWait:    getenvDuration("CONSULT_WS_WRITE_WAIT", 10*time.Second),

		CORSOrigins: splitList(getenv("CORS_ORIGINS", "*")),
		LogLevel:    getenv("LOG_LEVEL", "info"),
	}
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
