package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Firebase FirebaseConfig
	Token    TokenConfig
	Claim    ClaimConfig
	Notify   NotifyConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type FirebaseConfig struct {
	ProjectID         string
	CredentialsPath   string
	FirestoreDatabase string
	// Emulator support for integration testing
	UseEmulator           bool
	EmulatorAuthHost      string
	EmulatorFirestoreHost string
}

type TokenConfig struct {
	SigningKey string // secret key for QR payload signing
	Issuer     string // issuer claim on QR payloads
}

type ClaimConfig struct {
	IssueAttempts  int // token-issuance attempts before rollback (default: 3)
	IssueBackoffMS int // base backoff between attempts, milliseconds
}

type NotifyConfig struct {
	KafkaBrokers     []string // empty = log-only delivery
	KafkaTopic       string
	SweepIntervalSec int // expiry sweep interval; the claim-timeout policy parameter
}

// Load returns application configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Firebase: FirebaseConfig{
			ProjectID:             getEnv("FIREBASE_PROJECT_ID", ""),
			CredentialsPath:       getEnv("FIREBASE_CREDENTIALS_PATH", ""),
			FirestoreDatabase:     getEnv("FIRESTORE_DATABASE", "(default)"),
			UseEmulator:           getEnvBool("USE_FIREBASE_EMULATOR", false),
			EmulatorAuthHost:      getEnv("FIREBASE_AUTH_EMULATOR_HOST", "localhost:9099"),
			EmulatorFirestoreHost: getEnv("FIRESTORE_EMULATOR_HOST", "localhost:8080"),
		},
		Token: TokenConfig{
			SigningKey: getEnv("TOKEN_SIGNING_KEY", ""),
			Issuer:     getEnv("TOKEN_ISSUER", "save-more"),
		},
		Claim: ClaimConfig{
			IssueAttempts:  getEnvInt("CLAIM_ISSUE_ATTEMPTS", 3),
			IssueBackoffMS: getEnvInt("CLAIM_ISSUE_BACKOFF_MS", 200),
		},
		Notify: NotifyConfig{
			KafkaBrokers:     getEnvList("KAFKA_BROKERS"),
			KafkaTopic:       getEnv("KAFKA_NOTIFY_TOPIC", "listing-notifications"),
			SweepIntervalSec: getEnvInt("EXPIRY_SWEEP_INTERVAL_SEC", 60),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
