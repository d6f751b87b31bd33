package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"retro-api/api"
	"retro-api/session"
	"retro-api/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.New()

	var base *storage.Storage
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	snapshotsTable := os.Getenv("SNAPSHOTS_TABLE")
	if connStr != "" {
		if snapshotsTable == "" {
			log.Fatal("SNAPSHOTS_TABLE must be set when STORAGE_CONNECTION_STRING is")
		}
		var err error
		base, err = storage.New(connStr, snapshotsTable)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
	}

	var rc *redis.Client
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			parts := strings.Split(redisConn, ",")
			redisOpts = &redis.Options{Addr: parts[0]}
			for _, p := range parts[1:] {
				kv := strings.SplitN(p, "=", 2)
				if len(kv) != 2 {
					continue
				}
				switch strings.ToLower(kv[0]) {
				case "password":
					redisOpts.Password = kv[1]
				case "ssl":
					if strings.ToLower(kv[1]) == "true" {
						redisOpts.TLSConfig = &tls.Config{}
					}
				}
			}
		}
		rc = redis.NewClient(redisOpts)
	}

	var snapshots session.SnapshotStore
	switch {
	case base != nil && rc != nil:
		ttl := 24 * time.Hour
		if v := os.Getenv("SNAPSHOT_CACHE_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid SNAPSHOT_CACHE_TTL: %v", err)
			}
			ttl = d
		}
		snapshots = storage.NewCache(base, rc, ttl)
	case base != nil:
		snapshots = base
	case rc != nil:
		snapshots = storage.NewCache(nil, rc, 0)
	}

	var deltas session.DeltaSink
	if queueName := os.Getenv("DELTA_QUEUE"); queueName != "" {
		if connStr == "" {
			log.Fatal("STORAGE_CONNECTION_STRING must be set when DELTA_QUEUE is")
		}
		outbox, err := storage.NewOutbox(connStr, queueName, logger)
		if err != nil {
			log.Fatalf("outbox: %v", err)
		}
		defer outbox.Close()
		deltas = outbox
	}

	cfg := session.Config{
		Snapshots: snapshots,
		Deltas:    deltas,
		Logger:    logger,
	}
	if v := os.Getenv("BOARD_COLUMNS"); v != "" {
		cfg.ColumnNames = strings.Split(v, ",")
	}
	if v := os.Getenv("VOTE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			log.Fatalf("invalid VOTE_LIMIT: %v", err)
		}
		cfg.VoteLimit = n
	}
	if v := os.Getenv("BOARD_QUEUE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Fatalf("invalid BOARD_QUEUE: %v", err)
		}
		cfg.QueueSize = n
	}
	if v := os.Getenv("BOARD_IDLE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid BOARD_IDLE_TTL: %v", err)
		}
		cfg.IdleTTL = d
	}
	registry := session.NewRegistry(cfg)
	defer registry.Close()

	testMode := os.Getenv("AUTH0_TEST_MODE") == "1"
	var auth *api.Auth
	if testMode {
		auth = api.NewAuth(nil, "", "")
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, registry, auth, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
