package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"proofdeck/api/internal/app"
	"proofdeck/api/internal/authpw"
	"proofdeck/api/internal/blob"
	"proofdeck/api/internal/config"
	"proofdeck/api/internal/email"
	"proofdeck/api/internal/mention"
	"proofdeck/api/internal/realtime"
	"proofdeck/api/internal/search"
	"proofdeck/api/internal/session"
	"proofdeck/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	client, err := store.Open(ctx, cfg.MongoURI)
	if err != nil {
		log.Fatalf("mongodb connection failed: %v", err)
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	db := client.Database(cfg.MongoDatabase)
	dataStore := store.NewMongoStore(db)
	if err := dataStore.EnsureIndexes(ctx); err != nil {
		log.Fatalf("index creation failed: %v", err)
	}

	// Session backend: Redis when configured, Mongo with a TTL index
	// otherwise.
	var backend session.Backend
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for session storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		backend = redisStore
	} else {
		log.Printf("Using MongoDB for session storage")
		mongoSessions, err := session.NewMongoStore(ctx, db)
		if err != nil {
			log.Fatalf("session store setup failed: %v", err)
		}
		backend = mongoSessions
	}
	sessions := session.NewManager(backend, []byte(cfg.CookieSecret), cfg.SessionTTL)

	// Blob storage: MinIO when an endpoint is set, local disk otherwise.
	var blobs blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		log.Printf("Using MinIO for file storage")
		minioStore, err := blob.NewMinio(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("minio setup failed: %v", err)
		}
		blobs = minioStore
	} else {
		log.Printf("Using local disk for file storage")
		diskStore, err := blob.NewDisk(cfg.UploadsDir)
		if err != nil {
			log.Fatalf("uploads dir setup failed: %v", err)
		}
		blobs = diskStore
	}

	mongoFTS := search.NewMongoFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, mongoFTS)

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	mentionService := mention.NewService(dataStore, emailService, cfg.FrontendOrigin)

	hub := realtime.NewHub(sessions, cfg.CORSOrigin)

	service := app.NewService(dataStore, app.Deps{
		Auth:     authpw.NewService(dataStore),
		Mentions: mentionService,
		Hub:      hub,
		Search:   searchService,
		Blobs:    blobs,
	})
	httpServer := app.NewHTTPServer(service, sessions, cfg.CORSOrigin)

	mux := http.NewServeMux()
	mux.Handle("/socket", hub)
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Proofdeck API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
