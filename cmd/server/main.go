package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/billwise/billwise/backend/internal/bank"
	"github.com/billwise/billwise/backend/internal/config"
	"github.com/billwise/billwise/backend/internal/engine"
	"github.com/billwise/billwise/backend/internal/logging"
	"github.com/billwise/billwise/backend/internal/notify"
	"github.com/billwise/billwise/backend/internal/reasoning"
	"github.com/billwise/billwise/backend/internal/service"
	"github.com/billwise/billwise/backend/internal/store"
)

func main() {
	log := logging.New()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8111"
	}

	ctx := context.Background()
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	useMemoryStore := os.Getenv("USE_MEMORY_STORE") == "true" || os.Getenv("ENV") == "local"

	var knowledge store.Knowledge
	var cache store.Cache
	if useMemoryStore {
		log.Info().Msg("using in-memory stores for local development")
		mem := store.NewMemoryStore()
		knowledge, cache = mem, mem
	} else {
		if cfg.ProjectID == "" {
			log.Fatal().Msg("GOOGLE_CLOUD_PROJECT is required outside local mode")
		}
		client, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			log.Fatal().Err(err).Msg("create Firestore client")
		}
		defer client.Close()
		fs := store.NewFirestoreStore(client)
		knowledge, cache = fs, fs
	}

	provider := bank.NewHTTPProvider(cfg.BankBaseURL, cfg.BankAPIKey)

	client := reasoning.NewClient(cfg.ReasoningBaseURL, cfg.SigningSecret, cfg.AppID, cfg.ReasoningTimeout)

	eng, err := engine.New(cfg, knowledge, cache, provider, client, notify.NoopQueue{}, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("construct engine")
	}
	defer eng.Flush()

	mux := http.NewServeMux()
	handler := service.NewRecommendationsHandler(eng, log).Routes(mux, log)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:1234",
			"http://127.0.0.1:1234",
			"https://billwise.dev",
			"https://www.billwise.dev",
		},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"X-Request-ID",
			"X-User-ID",
		},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: h2c.NewHandler(c.Handler(handler), &http2.Server{}),
	}

	log.Info().Str("port", port).Msg("starting server")
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
