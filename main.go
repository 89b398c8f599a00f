package main

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"todo-api/api"
	"todo-api/storage"
)

const (
	defaultDBPath   = "./todos.db"
	defaultPort     = "3000"
	defaultCacheTTL = 5 * time.Minute
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	// No exporter: spans only give request logs a trace_id/span_id.
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	dbPath := defaultDBPath
	if v := os.Getenv("TODOS_DB_PATH"); v != "" {
		dbPath = v
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer db.Close()

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := storage.Init(initCtx, db); err != nil {
		// Keep serving; requests touching the datastore will fail with 500
		// and /healthz reports the outage.
		log.WithError(err).WithField("path", dbPath).Error("datastore init failed")
	} else {
		log.WithField("path", dbPath).Info("datastore ready")
	}
	cancel()

	base := storage.New(db)
	var store api.Storage = base
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		ttl := defaultCacheTTL
		if v := os.Getenv("TODOS_CACHE_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				log.Fatalf("invalid TODOS_CACHE_TTL: %q", v)
			}
			ttl = d
		}
		rc := redis.NewClient(parseRedisOptions(redisConn))
		defer rc.Close()
		store = storage.NewCache(base, rc, ttl)
		log.WithField("ttl", ttl).Info("redis list cache enabled")
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	e.Use(api.GzipRequests())

	logger := log.StandardLogger()
	api.Register(e, store, logger)

	port := defaultPort
	if val, ok := os.LookupEnv("PORT"); ok && val != "" {
		if _, err := strconv.Atoi(val); err != nil {
			log.Fatalf("invalid PORT: %v", err)
		}
		port = val
	}

	log.Infof("Server is running on http://localhost:%s", port)
	e.Logger.Fatal(e.Start(":" + port))
}

// parseRedisOptions accepts either a redis:// URL or the
// "host:port,password=...,ssl=true" form.
func parseRedisOptions(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}
