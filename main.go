package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	alarmapp "agrisense-cloud/internal/alarms/application"
	alarms "agrisense-cloud/internal/alarms/domain"
	alarmmemory "agrisense-cloud/internal/alarms/infrastructure/memory"
	alarmpostgres "agrisense-cloud/internal/alarms/infrastructure/postgres"
	alarmredis "agrisense-cloud/internal/alarms/infrastructure/redis"
	alarminterfaces "agrisense-cloud/internal/alarms/interfaces"
	alarmhttp "agrisense-cloud/internal/alarms/interfaces/http"
	"agrisense-cloud/internal/alarms/notify"
	analyticsapp "agrisense-cloud/internal/analytics/application"
	analytics "agrisense-cloud/internal/analytics/domain"
	analyticshttp "agrisense-cloud/internal/analytics/interfaces/http"
	"agrisense-cloud/internal/audit"
	"agrisense-cloud/internal/auth"
	"agrisense-cloud/internal/config"
	"agrisense-cloud/internal/eventing"
	"agrisense-cloud/internal/logging"
	masterapp "agrisense-cloud/internal/masterdata/application"
	masterdata "agrisense-cloud/internal/masterdata/domain"
	mastermemory "agrisense-cloud/internal/masterdata/infrastructure/memory"
	masterpostgres "agrisense-cloud/internal/masterdata/infrastructure/postgres"
	masterhttp "agrisense-cloud/internal/masterdata/interfaces/http"
	"agrisense-cloud/internal/observability/metrics"
	"agrisense-cloud/internal/realtime"
	realtimeredis "agrisense-cloud/internal/realtime/infrastructure/redis"
	realtimehttp "agrisense-cloud/internal/realtime/interfaces/http"
	"agrisense-cloud/internal/synth"
	synthhttp "agrisense-cloud/internal/synth/interfaces/http"
	telemetryapp "agrisense-cloud/internal/telemetry/application"
	telemetry "agrisense-cloud/internal/telemetry/domain"
	telemetrymemory "agrisense-cloud/internal/telemetry/infrastructure/memory"
	telemetrypostgres "agrisense-cloud/internal/telemetry/infrastructure/postgres"
	telemetryhttp "agrisense-cloud/internal/telemetry/interfaces/http"
	telemetrymqtt "agrisense-cloud/internal/telemetry/interfaces/mqtt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "agrisense-cloud")
	if err != nil {
		_, _ = os.Stderr.WriteString("logger error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store init error", zap.Error(err))
	}
	defer st.close()
	metrics.Init(st.db, logger)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("redis ping error", zap.Error(err))
		}
		episodes, err := alarmredis.NewEpisodeStore(redisClient)
		if err != nil {
			logger.Fatal("redis episode store error", zap.Error(err))
		}
		st.episodes = episodes
	}

	var wg sync.WaitGroup

	hub := realtime.NewHub(
		realtime.WithQueueSize(cfg.Realtime.QueueSize),
		realtime.WithDeliveryTimeout(cfg.Realtime.DeliveryTimeout),
		realtime.WithLogger(logger),
	)
	defer hub.Close()
	var signals interface {
		Publish(ctx context.Context, topic string)
	} = hub
	if redisClient != nil {
		bridge, err := realtimeredis.NewBridge(hub, redisClient, cfg.Redis.Channel, logger)
		if err != nil {
			logger.Fatal("realtime bridge error", zap.Error(err))
		}
		signals = bridge
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bridge.Run(ctx, nil); err != nil && ctx.Err() == nil {
				logger.Error("realtime bridge stopped", zap.Error(err))
			}
		}()
	}

	bus := eventing.NewInMemoryBus()

	alarmService, err := alarmapp.NewService(st.devices, st.thresholds, st.alerts, st.episodes,
		alarmapp.WithSignals(signals),
		alarmapp.WithAudit(st.audit),
		alarmapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("alarm service error", zap.Error(err))
	}
	consumer, err := alarminterfaces.NewReadingReceivedConsumer(alarmService)
	if err != nil {
		logger.Fatal("alarm consumer error", zap.Error(err))
	}
	consumer.Register(bus, logger)

	ingestService, err := telemetryapp.NewIngestService(st.devices, st.readings, bus, logger, telemetryapp.WithSignals(signals))
	if err != nil {
		logger.Fatal("ingest service error", zap.Error(err))
	}

	historyService, err := analyticsapp.NewHistoryService(st.readings,
		analyticsapp.WithLogger(logger),
		analyticsapp.WithQueryTimeout(cfg.History.QueryTimeout),
		analyticsapp.WithDefaultWindow(analytics.Window(cfg.History.DefaultWindow)),
	)
	if err != nil {
		logger.Fatal("history service error", zap.Error(err))
	}

	generator := synth.NewGenerator(nil)
	autogen, err := synth.NewAutoGenerator(generator, ingestService, st.devices,
		synth.WithInterval(cfg.Synth.Interval),
		synth.WithThresholds(alarmService),
		synth.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("autogen error", zap.Error(err))
	}
	defer autogen.Close()
	for _, deviceID := range cfg.Synth.Devices {
		if err := autogen.Enable(ctx, deviceID); err != nil {
			logger.Warn("autogen enable failed", zap.String("device_id", deviceID), zap.Error(err))
		}
	}

	deviceService, err := masterapp.NewDeviceService(st.devices, logger, autogen, st.readings, alarmService)
	if err != nil {
		logger.Fatal("device service error", zap.Error(err))
	}

	dispatcher, err := buildDispatcher(cfg, alarmService, st.devices, logger)
	if err != nil {
		logger.Fatal("alert dispatcher error", zap.Error(err))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx)
	}()

	if cfg.MQTT.Broker != "" {
		subscriber, err := telemetrymqtt.NewSubscriber(telemetrymqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			Topic:    cfg.MQTT.Topic,
			QoS:      cfg.MQTT.QoS,
		}, ingestService, logger)
		if err != nil {
			logger.Fatal("mqtt subscriber error", zap.Error(err))
		}
		if err := subscriber.Start(); err != nil {
			logger.Fatal("mqtt start error", zap.Error(err))
		}
		defer subscriber.Stop()
	}

	mux := http.NewServeMux()
	ingestHandler, err := telemetryhttp.NewIngestHandler(ingestService, logger)
	if err != nil {
		logger.Fatal("ingest handler error", zap.Error(err))
	}
	mux.Handle("/ingest/readings", ingestHandler)
	register(mux, logger,
		func() (registrar, error) { return alarmhttp.NewHandler(alarmService, logger) },
		func() (registrar, error) { return analyticshttp.NewHistoryHandler(historyService, logger) },
		func() (registrar, error) { return masterhttp.NewDeviceHandler(deviceService, logger) },
		func() (registrar, error) { return synthhttp.NewHandler(autogen, generator, alarmService, logger) },
	)
	mux.Handle("GET /api/v1/stream", realtimehttp.NewStreamHandler(hub, logger))
	mux.Handle("GET /api/v1/ws", realtimehttp.NewWebSocketHandler(hub, logger))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	var handler http.Handler = mux
	if cfg.JWTSecret != "" {
		handler = authMiddleware.Wrap(mux)
	} else {
		logger.Warn("AUTH_JWT_SECRET not set, management API is unauthenticated")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.Bool("postgres", st.db != nil), zap.Bool("redis", redisClient != nil))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	wg.Wait()
}

type stores struct {
	db         *sql.DB
	devices    masterdata.DeviceRepository
	readings   telemetry.ReadingRepository
	thresholds alarms.ThresholdRepository
	alerts     alarms.AlertRepository
	episodes   alarms.EpisodeStore
	audit      audit.Logger
}

func (s *stores) close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// openStores uses Postgres when a database URL is configured and in-memory stores otherwise.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		return &stores{
			devices:    mastermemory.NewDeviceRepository(),
			readings:   telemetrymemory.NewReadingRepository(),
			thresholds: alarmmemory.NewThresholdRepository(),
			alerts:     alarmmemory.NewAlertRepository(),
			episodes:   alarmmemory.NewEpisodeStore(),
			audit:      audit.NewMemoryLog(),
		}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &stores{
		db:         db,
		devices:    masterpostgres.NewDeviceRepository(db),
		readings:   telemetrypostgres.NewReadingRepository(db),
		thresholds: alarmpostgres.NewThresholdRepository(db),
		alerts:     alarmpostgres.NewAlertRepository(db),
		episodes:   alarmpostgres.NewEpisodeRepository(db),
		audit:      audit.NewRepository(db),
	}, nil
}

func buildDispatcher(cfg config.Config, alertSource notify.AlertSource, devices notify.DeviceReader, logger *zap.Logger) (*notify.Dispatcher, error) {
	var channel notify.Channel = notify.NewLogChannel(logger)
	if cfg.Alerts.WebhookURL != "" {
		webhook, err := notify.NewWebhookChannel(cfg.Alerts.WebhookURL,
			notify.WithBearerToken(cfg.Alerts.WebhookToken),
			notify.WithTimeout(cfg.Alerts.RequestTimeout),
		)
		if err != nil {
			return nil, err
		}
		channel = notify.NewMultiChannel(webhook, channel)
	}
	template, err := notify.NewTemplate(cfg.Alerts.Template)
	if err != nil {
		return nil, err
	}
	return notify.NewDispatcher(alertSource, devices, channel, template,
		notify.WithInterval(cfg.Alerts.DispatchInterval),
		notify.WithRequestTimeout(cfg.Alerts.RequestTimeout),
		notify.WithLogger(logger),
	)
}

type registrar interface {
	Register(mux *http.ServeMux)
}

func register(mux *http.ServeMux, logger *zap.Logger, builders ...func() (registrar, error)) {
	for _, build := range builders {
		handler, err := build()
		if err != nil {
			logger.Fatal("http handler error", zap.Error(err))
		}
		handler.Register(mux)
	}
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
		)
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

// Flush keeps SSE streaming working through the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack allows websocket upgrades through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
