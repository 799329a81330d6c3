package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string
	LogMode  string // dev|prod
	LogSalt  string // salts patient id hashes in logs

	DBDriver string // sqlite|postgres
	DBDSN    string

	RedisAddr     string // empty disables the stamp cache
	StampCacheTTL time.Duration

	TrialDefaultName string
	TrialActive      bool
	ProtocolFile     string // yaml; empty seeds the built-in defaults

	BFRTargetAOP    float64
	BFRToleranceAOP float64
	BFRGate         bool // fail safety compliance when any channel fails its check

	EnableLocalAuth bool
	AuthHMACSecret  string
	TokenTTL        time.Duration

	AdminUser     string
	AdminPassHash string // bcrypt

	CORSOriginsOnline  []string
	CORSOriginsOffline []string
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	logMode := "dev"
	if mode == ModeOnline {
		logMode = "prod"
	}
	return Config{
		Mode:     mode,
		HTTPAddr: addr,
		LogMode:  envOr("LOG_MODE", logMode),
		LogSalt:  os.Getenv("LOG_SALT"),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		StampCacheTTL: envDuration("STAMP_CACHE_TTL", 24*time.Hour),

		TrialDefaultName: envOr("TRIAL_DEFAULT_NAME", "GHOSTLY-TRIAL-DEFAULT"),
		TrialActive:      envBool("TRIAL_ACTIVE", true),
		ProtocolFile:     os.Getenv("PROTOCOL_FILE"),

		BFRTargetAOP:    envFloat("BFR_TARGET_AOP", 50),
		BFRToleranceAOP: envFloat("BFR_TOLERANCE_AOP", 10),
		BFRGate:         envBool("BFR_GATE", false),

		EnableLocalAuth: envBool("ENABLE_LOCAL_AUTH", true),
		AuthHMACSecret:  envOr("AUTH_HMAC_SECRET", "dev-secret-change-me"),
		TokenTTL:        envDuration("TOKEN_TTL", 12*time.Hour),

		AdminUser:          envOr("ADMIN_USER", "admin"),
		AdminPassHash:      envOr("ADMIN_PASS_HASH", "$2y$12$pyZAiWaTfVtM7UElIRStvOC3gNbnp70nmQU4eYopLGBfCJr1DOvji"),
		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://scoring.ghostly.example"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:5173"),
	}
}

// CORSOrigins returns the origin list for the current mode.
func (c Config) CORSOrigins() []string {
	if c.Mode == ModeOnline {
		return c.CORSOriginsOnline
	}
	return c.CORSOriginsOffline
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envFloat(k string, def float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(k)), 64)
	if err != nil {
		return def
	}
	return f
}
func envDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(k)))
	if err != nil {
		return def
	}
	return d
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
