package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/docsync/docsync/handlers"
	"github.com/docsync/docsync/internal/acl"
	"github.com/docsync/docsync/internal/blob"
	"github.com/docsync/docsync/internal/config"
	"github.com/docsync/docsync/internal/database"
	"github.com/docsync/docsync/internal/documents"
	"github.com/docsync/docsync/internal/ephemeral"
	"github.com/docsync/docsync/internal/oidc"
	"github.com/docsync/docsync/internal/protocol"
	"github.com/docsync/docsync/internal/ratelimit"
	"github.com/docsync/docsync/internal/relay"
	"github.com/docsync/docsync/internal/sessions"
	"github.com/docsync/docsync/internal/storage"
	"github.com/docsync/docsync/internal/tokens"
	"github.com/docsync/docsync/internal/users"
	"github.com/docsync/docsync/pkg/logger"
	"github.com/docsync/docsync/pkg/metrics"
	"github.com/docsync/docsync/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// logging first (LOG_LEVEL env: debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v redis=%v minio=%v oidc=%v",
		cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.MinIO.Endpoint != "", cfg.OIDC.Issuer != "")

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Permissive CORS for dev; production fronts this with a stricter proxy.
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, Range")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, ETag")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	})

	ctx := context.Background()

	// Redis: sessions + optional REST rate limiter backend.
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("redis ping failed (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("connected to redis at %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.NewRESTLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst).Middleware())
		}
	}

	// MongoDB with startup retry; in-memory fallbacks keep dev runs working
	// without infrastructure.
	var mongoClient *mongo.Client
	if cfg.MongoDB.URI != "" {
		mongoClient, err = database.ConnectMongoWithRetry(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout, 5)
		if err != nil {
			logger.Warnf("could not connect to MongoDB: %v", err)
		} else {
			defer func() { _ = mongoClient.Disconnect(ctx) }()
		}
	}

	var (
		usersRepo   users.Repository
		docsRepo    documents.Repository
		blobRepo    blob.Repository
		contentKV   storage.Backend
		sessionRepo sessions.Repository
	)
	if mongoClient != nil {
		db := mongoClient.Database(cfg.MongoDB.Database)
		usersRepo = users.NewMongoRepository(db.Collection("users"))
		docsRepo = documents.NewMongoRepository(db.Collection("documents"))
		blobRepo = blob.NewMongoRepository(db)
		contentKV = storage.NewMongoBackend(db.Collection("document_chunks"))
	} else {
		logger.Warn("MongoDB unavailable, using in-memory repositories")
		usersRepo = users.NewMemoryRepository()
		docsRepo = documents.NewMemoryRepository()
		blobRepo = blob.NewMemoryRepository()
		contentKV = storage.NewMemoryBackend()
	}

	if redisClient != nil {
		sessionRepo = sessions.NewRedisRepository(redisClient, "session:")
	} else {
		logger.Warn("redis unavailable, using in-memory session store")
		sessionRepo = sessions.NewMemoryRepository()
	}

	// Blob bytes live in MinIO; memory backend keeps dev runs self-contained.
	var blobBytes blob.Bytes
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinIOStorage(&cfg.MinIO)
		if err != nil {
			logger.Fatalf("failed to initialize MinIO: %v", err)
		}
		blobBytes = minioStore
	} else {
		logger.Warn("MinIO not configured, blob bytes held in memory")
		blobBytes = blob.NewMemoryBytes()
	}

	// Services.
	usersSvc := users.NewService(usersRepo, cfg.Quotas)
	sessionsSvc := sessions.NewService(sessionRepo)
	tokenMgr := tokens.NewManager(cfg.JWT.Secret, cfg.JWT.APITokenTTL)
	blobStore := blob.NewStore(blobRepo, blobBytes, usersSvc, cfg.Blob)
	docsSvc := documents.NewService(docsRepo, usersSvc, blobStore)
	resolver := acl.NewResolver(docsRepo)
	contentStore := storage.NewAdapter(contentKV)
	ephMgr := ephemeral.NewManager(cfg.Sync.EphemeralIdleTimeout)
	defer ephMgr.Shutdown()

	// Websocket relay.
	codec, err := protocol.NewCBORCodec()
	if err != nil {
		logger.Fatalf("failed to initialize codec: %v", err)
	}
	relaySvc := relay.New(resolver, ephMgr, sessionsSvc, tokenMgr, ratelimit.New(), codec, relay.Config{
		AuthTimeout:   cfg.Sync.AuthTimeout,
		AnonConnLimit: ratelimit.Limit{Max: cfg.RateLimit.AnonConnPerMin, Window: time.Minute},
		AnonMsgLimit:  ratelimit.Limit{Max: cfg.RateLimit.AnonMsgPerMin, Window: time.Minute},
	})

	// Optional OIDC verifier enables the login boundary.
	var verifier middleware.Verifier
	if cfg.OIDC.Issuer != "" && cfg.OIDC.ClientID != "" {
		ver, err := oidc.NewVerifier(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			verifier = ver
		}
	}

	api := r.Group("/api/v1")
	if verifier != nil {
		handlers.NewAuthHandler(cfg, usersSvc, sessionsSvc, tokenMgr, verifier).Register(api)
	} else {
		logger.Warn("OIDC not configured, auth endpoints not registered")
	}
	handlers.NewDocumentsHandler(docsSvc, resolver, contentStore, sessionsSvc, tokenMgr).Register(api)
	handlers.NewBlobsHandler(blobStore, sessionsSvc, tokenMgr).Register(api)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.GET("/ready", func(c *gin.Context) {
		deps := map[string]bool{
			"mongodb": mongoClient != nil || cfg.MongoDB.URI == "",
			"redis":   redisClient != nil || cfg.Redis.Host == "",
			"oidc":    verifier != nil || cfg.OIDC.Issuer == "",
		}
		ready := deps["mongodb"] && deps["redis"] && deps["oidc"]
		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "deps": deps, "uptime": time.Since(startTime).String()})
	})
	r.GET("/stats", func(c *gin.Context) {
		eph := ephMgr.Stats()
		c.JSON(http.StatusOK, gin.H{
			"connections":        relaySvc.Registry().Count(),
			"ephemeralDocuments": eph.Documents,
			"ephemeralPeers":     eph.Peers,
		})
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Background sweep for released blobs past their grace period.
	gcInterval := cfg.Blob.GCInterval
	if gcInterval <= 0 {
		gcInterval = time.Hour
	}
	gcTicker := time.NewTicker(gcInterval)
	defer gcTicker.Stop()
	go func() {
		for range gcTicker.C {
			if _, err := blobStore.SweepReleased(context.Background()); err != nil {
				logger.Errorf("blob gc sweep failed: %v", err)
			}
		}
	}()

	// The websocket upgrade hijacks the connection, which gin's response
	// writer does not allow, so /sync sits on the raw mux in front of the
	// router.
	mux := http.NewServeMux()
	mux.Handle("/sync", relaySvc)
	mux.Handle("/", r)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("starting docsync on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
