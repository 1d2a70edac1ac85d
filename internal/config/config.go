package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by CREDAL_ENV (or .env by default),
// then loads the corresponding .secret sidecar if it exists. All config is
// flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("CREDAL_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

// DatabaseURL enables the optional postgres audit sink when set. The store
// itself never persists; this only forwards events to the substrate.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// RateLimitRPS returns requests per second limit. Defaults to 100.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting. Defaults to 20.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// ResolutionPolicy returns the store-wide policy name.
// Defaults to "keep_all_escalate".
func ResolutionPolicy() string {
	p := os.Getenv("CREDAL_POLICY")
	if p == "" {
		return "keep_all_escalate"
	}
	return p
}

func NumericTolerance() float64 {
	return floatEnv("CREDAL_NUMERIC_TOLERANCE", 0)
}

func MaterialityFloor() float64 {
	return floatEnv("CREDAL_MATERIALITY_FLOOR", 0.2)
}

func ConsensusThreshold() float64 {
	return floatEnv("CREDAL_CONSENSUS_THRESHOLD", 0.6)
}

func ContributionFloor() float64 {
	return floatEnv("CREDAL_CONTRIBUTION_FLOOR", 0.05)
}

func DecayHalfLife() time.Duration {
	return durationEnv("CREDAL_DECAY_HALF_LIFE", 2*time.Hour)
}

func DecayTTL() time.Duration {
	return durationEnv("CREDAL_DECAY_TTL", 24*time.Hour)
}

func DecayInterval() time.Duration {
	return durationEnv("CREDAL_DECAY_INTERVAL", 60*time.Second)
}

// SupersedePerAgent enables single-latest-claim semantics per agent.
func SupersedePerAgent() bool {
	return os.Getenv("CREDAL_SUPERSEDE_PER_AGENT") == "true"
}

// SalienceWeights returns the four weight components. Defaults mirror the
// store's: confidence 0.55, recency 0.25, trust 0.20, context 0.
func SalienceWeights() (confidence, recency, trust, context float64) {
	return floatEnv("CREDAL_WEIGHT_CONFIDENCE", 0.55),
		floatEnv("CREDAL_WEIGHT_RECENCY", 0.25),
		floatEnv("CREDAL_WEIGHT_TRUST", 0.20),
		floatEnv("CREDAL_WEIGHT_CONTEXT", 0)
}

func floatEnv(name string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(name), 64)
	if err != nil {
		return def
	}
	return v
}

func durationEnv(name string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
