// Command server runs the OAuth2/OIDC provider HTTP server.
package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	oidc "go.scistack.dev/oidc"
	echoapi "go.scistack.dev/oidc/api/echo"
	"go.scistack.dev/oidc/cache"
	redicache "go.scistack.dev/oidc/cache/redis"
	"go.scistack.dev/oidc/config"
	"go.scistack.dev/oidc/mongodb"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mongoClient, err := mongodb.Connect(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			log.Error().Err(err).Msg("error closing MongoDB connection")
		}
	}()

	db := mongoClient.Database(cfg.MongoDBName)
	if err := mongodb.EnsureIndexes(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure MongoDB indexes")
	}

	refreshTokens := mongodb.NewRefreshTokenRepository(db)
	accessTokens := mongodb.NewAccessTokenRepository(db)
	consents := mongodb.NewConsentRepository(db)
	sectors := mongodb.NewSectorIdentifierRepository(db)
	clients := mongodb.NewClientRepository(db)
	profiles := mongodb.NewProfileRepository(db, cfg.TeamsCollection)
	transactor := mongodb.NewTransactor(mongoClient)

	tokenCache := buildTokenCache(ctx, cfg)

	keys, err := oidc.NewSigningKeyManager(cfg.SigningKeys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load signing keys")
	}

	codeKey, err := base64.RawStdEncoding.DecodeString(cfg.AuthCodeKey)
	if err != nil {
		log.Fatal().Err(err).Msg("authorization code key is not valid base64")
	}
	codec, err := oidc.NewAuthorizationCodec(codeKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize authorization code codec")
	}

	resolver := oidc.NewSectorIdentifierResolver(nil)
	registry := oidc.NewClientRegistry(clients, sectors, resolver)
	pairwise := oidc.NewPairwiseCodec(clients, sectors, cfg.FirstPartyClientID)
	negotiator := oidc.NewClaimsNegotiator(oidc.StandardClaimProviders(profiles)...)
	issuer := oidc.NewTokenIssuer(cfg.Issuer, keys, accessTokens, refreshTokens, tokenCache)
	refresh := oidc.NewRefreshTokenService(refreshTokens, transactor)
	consent := oidc.NewConsentLedger(consents)
	revocation := oidc.NewRevocationService(refreshTokens, accessTokens, keys, tokenCache)

	service := oidc.NewOIDCService(
		cfg.Issuer, registry, codec, pairwise, negotiator,
		issuer, refresh, consent, revocation, keys,
	)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	api := echoapi.NewOAuth2API(service, registry, cfg.Issuer, proxyUserResolver)
	api.RegisterRoutes(e)

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting HTTP server")
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during HTTP shutdown")
	}
}

func setupLogging(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

func buildTokenCache(ctx context.Context, cfg *config.ServerConfig) cache.TokenStore {
	if cfg.RedisAddr == "" {
		log.Info().Msg("using in-process token cache")
		return cache.NewMemoryTokenStore()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	log.Info().Str("addr", cfg.RedisAddr).Msg("using Redis token cache")
	return redicache.NewTokenStore(client, "oidc")
}

// proxyUserResolver trusts the authenticating reverse proxy in front of this
// server to assert the user identity. Deployments without one must replace
// this with their session integration.
func proxyUserResolver(c echo.Context) (string, *time.Time, error) {
	userID := c.Request().Header.Get("X-Forwarded-User")
	if userID == "" {
		return "", nil, nil
	}
	var authenticatedAt *time.Time
	if raw := c.Request().Header.Get("X-Forwarded-Auth-Time"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			authenticatedAt = &t
		}
	}
	return userID, authenticatedAt, nil
}
