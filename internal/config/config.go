package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	ReturnWindowDays       int
	BnplTermDays           int
	SummaryCacheTTLSeconds int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	LogLevel               string
	LoyaltyPointsPerUnit   string
	LoyaltyMinPurchase     int64
	BootstrapAdminUser     string
	BootstrapAdminPassword string
	MigrateOnStart         bool
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present; real environment
// variables win over it.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	minPurchase, err := strconv.ParseInt(getEnv("LOYALTY_MIN_PURCHASE_CENTS", "0"), 10, 64)
	if err != nil || minPurchase < 0 {
		minPurchase = 0
	}

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		ReturnWindowDays:       positiveInt("RETURN_WINDOW_DAYS", 30),
		BnplTermDays:           positiveInt("BNPL_TERM_DAYS", 30),
		SummaryCacheTTLSeconds: positiveInt("SUMMARY_CACHE_TTL_SECONDS", 30),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		LogLevel:               strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LoyaltyPointsPerUnit:   getEnv("LOYALTY_POINTS_PER_CURRENCY", "1"),
		LoyaltyMinPurchase:     minPurchase,
		BootstrapAdminUser:     strings.ToLower(getEnv("BOOTSTRAP_ADMIN_USER", "admin")),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		MigrateOnStart:         getEnv("MIGRATE_ON_START", "true") != "false",
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
