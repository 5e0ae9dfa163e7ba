package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"streamlog/internal/adminhttp"
	"streamlog/internal/server"
	"streamlog/internal/storage"
	"streamlog/internal/storage/fsstorage"
	"streamlog/internal/storage/pgstorage"
	"streamlog/internal/system"
)

func main() {
	listenAddr := flag.String("listen", ":8090", "TCP listen address for the framed protocol")
	adminAddr := flag.String("admin", ":8091", "HTTP listen address for the read-only admin surface")
	baseDir := flag.String("base-path", "./data", "base directory for segment and metadata files")
	segmentSize := flag.Int64("segment-size", 10*1024*1024, "segment rollover threshold in bytes")
	cacheIndexes := flag.Bool("cache-indexes", true, "keep decoded index records in memory")
	cacheTimeIndexes := flag.Bool("cache-time-indexes", true, "keep decoded time-index records in memory")
	messageExpiry := flag.Int64("message-expiry", 0, "message expiry in seconds, 0 = never")
	cacheEnabled := flag.Bool("cache-enabled", true, "enable the partition message cache")
	cacheMessages := flag.Int("cache-messages-amount", 1000, "partition message cache capacity")
	maxTopicSize := flag.Int64("max-topic-size", 0, "topic size retention limit in bytes, 0 = unlimited")
	retentionInterval := flag.Int64("retention-interval", 30, "seconds between retention sweeps")

	metadataBackend := flag.String("metadata-backend", "fs", "metadata backend: fs or postgres")
	pgHost := flag.String("pg-host", "localhost", "postgres host (metadata-backend=postgres)")
	pgPort := flag.Int("pg-port", 5432, "postgres port")
	pgDatabase := flag.String("pg-database", "streamlog", "postgres database")
	pgUser := flag.String("pg-user", "streamlog", "postgres user")
	pgPassword := flag.String("pg-password", "", "postgres password")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := system.DefaultConfig(*baseDir)
	cfg.RetentionCheckIntervalSeconds = *retentionInterval
	cfg.DefaultTopicConfig.MessageExpirySeconds = *messageExpiry
	cfg.DefaultTopicConfig.MaxTopicSizeBytes = *maxTopicSize
	cfg.DefaultTopicConfig.PartitionConfig.CacheEnabled = *cacheEnabled
	cfg.DefaultTopicConfig.PartitionConfig.CacheMessagesAmount = *cacheMessages
	cfg.DefaultTopicConfig.PartitionConfig.SegmentConfig.Size = *segmentSize
	cfg.DefaultTopicConfig.PartitionConfig.SegmentConfig.CacheIndexes = *cacheIndexes
	cfg.DefaultTopicConfig.PartitionConfig.SegmentConfig.CacheTimeIndexes = *cacheTimeIndexes
	cfg.DefaultTopicConfig.PartitionConfig.SegmentConfig.MessageExpirySeconds = *messageExpiry

	var port storage.Port
	switch *metadataBackend {
	case "fs":
		port = fsstorage.New(*baseDir).AsPort()
	case "postgres":
		store, err := pgstorage.Open(pgstorage.Config{
			Host:     *pgHost,
			Port:     *pgPort,
			Database: *pgDatabase,
			User:     *pgUser,
			Password: *pgPassword,
		})
		if err != nil {
			logger.Fatal("failed to open postgres metadata store", zap.Error(err))
		}
		defer store.Close()
		port = store.AsPort()
	default:
		logger.Fatal("unknown metadata backend", zap.String("backend", *metadataBackend))
	}

	sys, err := system.Init(cfg, port, logger)
	if err != nil {
		logger.Fatal("system init failed", zap.Error(err))
	}

	sys.StartRetention()

	srv := server.New(server.Config{ListenAddr: *listenAddr}, sys, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	admin := &http.Server{
		Addr:    *adminAddr,
		Handler: adminhttp.NewHandler(sys, logger).Router(),
	}
	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("admin server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	srv.Stop()
	admin.Close()
	if err := sys.Shutdown(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
