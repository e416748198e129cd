package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"zatoka_pms/internal/adapters/beds24"
	server "zatoka_pms/internal/adapters/http_server"
	"zatoka_pms/internal/adapters/observability"
	redisad "zatoka_pms/internal/adapters/redis"
	"zatoka_pms/internal/adapters/zoho"
	"zatoka_pms/internal/app"
	"zatoka_pms/internal/domain"
	"zatoka_pms/internal/shared"
	mysqlrepo "zatoka_pms/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	crm, err := zoho.New(zoho.Config{
		AccountsURL:  cfg.ZohoAccountsURL,
		APIDomain:    cfg.ZohoAPIDomain,
		ClientID:     cfg.ZohoClientID,
		ClientSecret: cfg.ZohoClientSecret,
		RefreshToken: cfg.ZohoRefreshToken,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("zoho client init failed")
	}

	channel := beds24.New(cfg.Beds24Base, 0)
	installChannelCreds(channel, repo, cfg)

	// services
	syncSvc := app.NewSyncService(crm, repo, cache, log.Logger)
	validator := app.NewValidator(repo)
	vouchers := app.NewVoucherService(repo)

	h := server.NewHandlers()
	h.Store = repo
	h.Quoter = app.NewQuoter(repo, cache, cfg.Currency, int(cfg.CacheTTL.Seconds()), log.Logger)
	h.Bookings = app.NewBookingService(repo, syncSvc, validator, vouchers, channel,
		cfg.RefPrefix, cfg.BalanceDueDays, cfg.Currency, log.Logger)
	h.Vouchers = vouchers
	h.Webhooks = app.NewWebhookProcessor(repo, syncSvc, validator, cfg.Currency, log.Logger)
	h.Rates = app.NewRateService(repo, channel, cache, log.Logger)
	h.Importer = app.NewImportService(repo, channel, syncSvc, cache, cfg.ImportWorkers, cfg.Currency, log.Logger)
	h.ICal = app.NewICalService(repo, cache, cfg.Currency, log.Logger)
	h.Sync = syncSvc

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(h)

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

// installChannelCreds prefers the refresh token stored on the property row,
// falling back to the environment. Missing credentials only disable the
// channel-manager endpoints, not the API.
func installChannelCreds(channel *beds24.Client, repo *mysqlrepo.Repo, cfg shared.Config) {
	if prop, err := repo.FirstPropertyWithChannelCreds(context.Background()); err == nil {
		if prop.Beds24RefreshToken != nil && *prop.Beds24RefreshToken != "" {
			channel.UseRefreshToken(*prop.Beds24RefreshToken)
			return
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Msg("channel credential lookup failed")
	}
	if cfg.Beds24RefreshToken != "" {
		channel.UseRefreshToken(cfg.Beds24RefreshToken)
		return
	}
	log.Warn().Msg("no beds24 refresh token configured; channel sync disabled until setup")
}
