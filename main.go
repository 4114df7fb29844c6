package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	alertapp "fleetpulse/internal/alerts/application"
	alertrepo "fleetpulse/internal/alerts/infrastructure/postgres"
	alerthttp "fleetpulse/internal/alerts/interfaces/http"
	"fleetpulse/internal/audit"
	"fleetpulse/internal/auth"
	devapp "fleetpulse/internal/devices/application"
	devrepo "fleetpulse/internal/devices/infrastructure/postgres"
	devhttp "fleetpulse/internal/devices/interfaces/http"
	"fleetpulse/internal/eventing"
	"fleetpulse/internal/eventing/interfaces/ws"
	heartbeatapp "fleetpulse/internal/heartbeat/application"
	heartbeatrepo "fleetpulse/internal/heartbeat/infrastructure/postgres"
	heartbeathttp "fleetpulse/internal/heartbeat/interfaces/http"
	heartbeatmqtt "fleetpulse/internal/heartbeat/interfaces/mqtt"
	"fleetpulse/internal/observability/metrics"
	"fleetpulse/internal/scoring"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init()

	scoringCfg, err := scoring.LoadConfig(cfg.ScoringConfigPath)
	if err != nil {
		logger.Fatalf("scoring config error: %v", err)
	}
	scorer, err := scoring.NewScorer(scoringCfg)
	if err != nil {
		logger.Fatalf("scorer error: %v", err)
	}

	states, err := devapp.NewStateStore(scorer, devapp.WithOnlineTimeout(cfg.OnlineTimeout))
	if err != nil {
		logger.Fatalf("state store error: %v", err)
	}
	deviceStateRepo := devrepo.NewStateRepository(db)
	restored, err := deviceStateRepo.List(context.Background())
	if err != nil {
		logger.Fatalf("state restore error: %v", err)
	}
	for _, state := range restored {
		states.Restore(state)
	}
	logger.Printf("restored %d device state(s)", len(restored))

	deviceRepo := devrepo.NewDeviceRepository(db)
	alertRepo := alertrepo.NewAlertRepository(db)
	alertStateRepo := alertrepo.NewStateRepository(db)

	registry, err := alertapp.NewRegistry(alertRepo, alertapp.WithTTL(cfg.AlertCacheTTL))
	if err != nil {
		logger.Fatalf("alert registry error: %v", err)
	}
	evaluator, err := alertapp.NewEvaluator(alertStateRepo)
	if err != nil {
		logger.Fatalf("evaluator error: %v", err)
	}
	alertService, err := alertapp.NewService(alertRepo, alertStateRepo, registry)
	if err != nil {
		logger.Fatalf("alert service error: %v", err)
	}

	bus := eventing.NewBus(eventing.WithQueueCapacity(cfg.BusQueueCapacity))

	heartbeatRepo := heartbeatrepo.NewHeartbeatRepository(db)
	pipeline, err := heartbeatapp.NewPipeline(scorer, states, deviceRepo, registry, evaluator, bus,
		heartbeatapp.WithHeartbeatRepository(heartbeatRepo),
		heartbeatapp.WithStatePersister(deviceStateRepo),
		heartbeatapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("pipeline error: %v", err)
	}

	sweeper, err := heartbeatapp.NewSweeper(states, deviceRepo, bus,
		heartbeatapp.WithSweepInterval(cfg.SweepInterval),
		heartbeatapp.WithSweeperLogger(logger),
	)
	if err != nil {
		logger.Fatalf("sweeper error: %v", err)
	}
	go sweeper.Run(context.Background())

	if cfg.MQTTBroker != "" {
		consumer, err := heartbeatmqtt.NewConsumer(heartbeatmqtt.Config{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
		}, pipeline, logger)
		if err != nil {
			logger.Fatalf("mqtt consumer error: %v", err)
		}
		defer consumer.Close()
		if err := consumer.Subscribe(); err != nil {
			logger.Fatalf("mqtt subscribe error: %v", err)
		}
	}

	ingestHandler, err := heartbeathttp.NewIngestHandler(pipeline, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	streamHandler, err := ws.NewStreamHandler(bus, logger)
	if err != nil {
		logger.Fatalf("stream handler error: %v", err)
	}
	ownerChecker := auth.NewOwnerChecker(db)
	auditRepo := audit.NewRepository(db)
	alertHandler, err := alerthttp.NewHandler(alertService, alertRepo, ownerChecker, auditRepo, logger)
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}
	deviceHandler, err := devhttp.NewHandler(deviceRepo, states, auditRepo, logger)
	if err != nil {
		logger.Fatalf("device handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/heartbeat", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/ws", streamHandler)
	mux.Handle("/api/v1/devices", deviceHandler)
	mux.Handle("/api/v1/devices/", deviceHandler)
	mux.Handle("/api/v1/alerts/", alertHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	ScoringConfigPath string
	OnlineTimeout     time.Duration
	SweepInterval     time.Duration
	AlertCacheTTL     time.Duration
	BusQueueCapacity  int
	JWTSecret         string
	IngestSecret      string
	IngestSkewSeconds int
	MQTTBroker        string
	MQTTClientID      string
	MQTTUsername      string
	MQTTPassword      string
	MQTTTopic         string
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		ScoringConfigPath: getenvDefault("SCORING_CONFIG", ""),
		OnlineTimeout:     getenvDuration("ONLINE_TIMEOUT", devapp.DefaultOnlineTimeout),
		SweepInterval:     getenvDuration("SWEEP_INTERVAL", heartbeatapp.DefaultSweepInterval),
		AlertCacheTTL:     getenvDuration("ALERT_CACHE_TTL", alertapp.DefaultRegistryTTL),
		BusQueueCapacity:  getenvIntDefault("BUS_QUEUE_CAPACITY", eventing.DefaultQueueCapacity),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:      getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds: getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		MQTTBroker:        getenvDefault("MQTT_BROKER", ""),
		MQTTClientID:      getenvDefault("MQTT_CLIENT_ID", "fleetpulse-ingest"),
		MQTTUsername:      getenvDefault("MQTT_USERNAME", ""),
		MQTTPassword:      getenvDefault("MQTT_PASSWORD", ""),
		MQTTTopic:         getenvDefault("MQTT_TOPIC", heartbeatmqtt.DefaultTopic),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return hijacker.Hijack()
}
