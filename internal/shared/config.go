package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	Currency       string
	RefPrefix      string // booking reference prefix, e.g. ZAT
	BalanceDueDays int    // balance due this many days before check-in

	ZohoAccountsURL  string
	ZohoAPIDomain    string
	ZohoClientID     string
	ZohoClientSecret string
	ZohoRefreshToken string

	Beds24Base         string
	Beds24RefreshToken string
	Beds24InviteCode   string

	ImportWorkers int
	CacheTTL      time.Duration
}

func Load() Config {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/zatoka?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisPass:   env("REDIS_PASSWORD", ""),
		RedisDB:     atoi("REDIS_DB", 0),

		Currency:       env("CURRENCY", "PLN"),
		RefPrefix:      env("BOOKING_REF_PREFIX", "ZAT"),
		BalanceDueDays: atoi("BALANCE_DUE_DAYS", 3),

		ZohoAccountsURL:  env("ZOHO_ACCOUNTS_URL", "https://accounts.zoho.com"),
		ZohoAPIDomain:    env("ZOHO_API_DOMAIN", "https://www.zohoapis.com"),
		ZohoClientID:     env("ZOHO_CLIENT_ID", ""),
		ZohoClientSecret: env("ZOHO_CLIENT_SECRET", ""),
		ZohoRefreshToken: env("ZOHO_REFRESH_TOKEN", ""),

		Beds24Base:         env("BEDS24_BASE_URL", "https://beds24.com/api/v2"),
		Beds24RefreshToken: env("BEDS24_REFRESH_TOKEN", ""),
		Beds24InviteCode:   env("BEDS24_INVITE_CODE", ""),

		ImportWorkers: atoi("IMPORT_WORKERS", 8),
		CacheTTL:      time.Duration(atoi("CACHE_TTL_SECONDS", 300)) * time.Second,
	}
	if c.ZohoClientID == "" {
		log.Warn().Msg("ZOHO_CLIENT_ID is empty")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
