package main

import (
	"os"
	"time"

	"formulachat/internal/api"
	"formulachat/internal/auth"
	"formulachat/internal/cache"
	"formulachat/internal/config"
	"formulachat/internal/ocr"
	"formulachat/internal/relay"
	"formulachat/internal/storage"
	"formulachat/internal/store"
	"formulachat/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const sessionTTL = 24 * time.Hour

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfgPath := os.Getenv("FORMULACHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	dbType := os.Getenv("FORMULACHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info().Str("driver", dbType).Msg("opening database")
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	// Create necessary tables: users, user_sessions, chats, messages
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	st := store.New(db)

	cacheClient, err := cache.NewClient(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, session cache disabled")
		cacheClient = nil
	} else {
		defer cacheClient.Close()
	}
	sessionCache := cache.NewSessions(cacheClient, logger)

	codec, err := token.NewCodecFromEnv(sessionTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("init token codec")
	}

	authService := auth.NewService(st, codec, sessionCache, sessionTTL, logger)
	proxy := relay.NewProxy(st, cfg.Upstream.GenerateURL, logger)

	ocrClient, err := ocr.NewClientFromEnv(cfg.OCR.BaseURL)
	if err != nil {
		logger.Warn().Err(err).Msg("formula recognition disabled")
		ocrClient = nil
	}

	handlers := api.NewHandler(st, authService, proxy, ocrClient, logger)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8080"
	}

	if err := router.Run(addr); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
