package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"zatoka_pms/internal/adapters/beds24"
	"zatoka_pms/internal/adapters/observability"
	redisad "zatoka_pms/internal/adapters/redis"
	"zatoka_pms/internal/adapters/zoho"
	"zatoka_pms/internal/app"
	"zatoka_pms/internal/domain"
	"zatoka_pms/internal/shared"
	mysqlrepo "zatoka_pms/internal/storage/mysql"
)

func main() {
	wipe := flag.Bool("wipe", false, "delete all local bookings before importing")
	flag.Parse()

	ctx := context.Background()
	cfg := shared.Load()
	log.Logger = observability.NewLogger(cfg.AppEnv)

	log.Info().
		Str("base", cfg.Beds24Base).
		Int("workers", cfg.ImportWorkers).
		Bool("wipe", *wipe).
		Msg("importer starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	channel := beds24.New(cfg.Beds24Base, 0)
	if !setupChannel(ctx, channel, repo, cfg) {
		log.Fatal().Msg("no beds24 credentials; set BEDS24_REFRESH_TOKEN or BEDS24_INVITE_CODE")
	}

	// CRM fan-out is optional: without Zoho credentials the importer still
	// fills the local cache.
	var syncSvc *app.SyncService
	crm, err := zoho.New(zoho.Config{
		AccountsURL:  cfg.ZohoAccountsURL,
		APIDomain:    cfg.ZohoAPIDomain,
		ClientID:     cfg.ZohoClientID,
		ClientSecret: cfg.ZohoClientSecret,
		RefreshToken: cfg.ZohoRefreshToken,
	})
	if err != nil {
		log.Warn().Err(err).Msg("zoho client unavailable, skipping CRM fan-out")
	} else {
		syncSvc = app.NewSyncService(crm, repo, cache, log.Logger)
	}

	imp := app.NewImportService(repo, channel, syncSvc, cache, cfg.ImportWorkers, cfg.Currency, log.Logger)
	res, err := imp.ImportAll(ctx, *wipe)
	if err != nil {
		log.Fatal().Err(err).Msg("import failed")
	}
	log.Info().
		Int("properties", res.Properties).
		Int("rooms", res.Rooms).
		Int("bookings", res.Bookings).
		Int("wiped", res.BookingsWiped).
		Int("crm_synced", res.CRMSynced).
		Int("crm_failed", res.CRMSyncFailed).
		Int("unmapped_rooms", res.UnmappedRooms).
		Msg("import completed")
}

// setupChannel installs stored credentials, or exchanges a one-time invite
// code and persists the resulting refresh token on the property row.
func setupChannel(ctx context.Context, channel *beds24.Client, repo *mysqlrepo.Repo, cfg shared.Config) bool {
	if prop, err := repo.FirstPropertyWithChannelCreds(ctx); err == nil {
		if prop.Beds24RefreshToken != nil && *prop.Beds24RefreshToken != "" {
			channel.UseRefreshToken(*prop.Beds24RefreshToken)
			return true
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		log.Warn().Err(err).Msg("channel credential lookup failed")
	}
	if cfg.Beds24RefreshToken != "" {
		channel.UseRefreshToken(cfg.Beds24RefreshToken)
		return true
	}
	if cfg.Beds24InviteCode != "" {
		tok, err := channel.Setup(ctx, cfg.Beds24InviteCode)
		if err != nil {
			log.Fatal().Err(err).Msg("beds24 invite code exchange failed")
		}
		log.Info().Msg("beds24 refresh token obtained from invite code")
		persistRefreshToken(ctx, repo, tok)
		return true
	}
	return false
}

func persistRefreshToken(ctx context.Context, repo *mysqlrepo.Repo, tok string) {
	prop, err := repo.FirstPropertyWithChannelCreds(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// the property rows arrive with the first import; the token is kept
			// in memory for this run and must be persisted manually after
			log.Warn().Msg("no property row yet, refresh token not persisted")
			return
		}
		log.Warn().Err(err).Msg("refresh token persist lookup failed")
		return
	}
	prop.Beds24RefreshToken = &tok
	if err := repo.UpsertProperty(ctx, prop); err != nil {
		log.Warn().Err(err).Msg("refresh token persist failed")
	}
}
