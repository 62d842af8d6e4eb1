// Command grid-engine wires every subsystem together: MQTT ingest, the
// TCP protocol server, the aggregation cascade, the liveness tracker, and
// the HTTP health/metrics/WebSocket surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cccl/grid-engine/internal/aggregation"
	"github.com/cccl/grid-engine/internal/archive"
	"github.com/cccl/grid-engine/internal/batchwriter"
	"github.com/cccl/grid-engine/internal/broadcast"
	"github.com/cccl/grid-engine/internal/config"
	"github.com/cccl/grid-engine/internal/health"
	"github.com/cccl/grid-engine/internal/httpmw"
	"github.com/cccl/grid-engine/internal/liveness"
	"github.com/cccl/grid-engine/internal/metrics"
	"github.com/cccl/grid-engine/internal/mqttclient"
	"github.com/cccl/grid-engine/internal/mqttingest"
	"github.com/cccl/grid-engine/internal/store"
	"github.com/cccl/grid-engine/internal/tcpserver"
	"github.com/cccl/grid-engine/internal/telemetry"
	"github.com/cccl/grid-engine/internal/validate"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.MQTTBrokerURL, "mqtt-url", "", "MQTT broker URL (overrides MQTT_BROKER_URL)")
	flag.StringVar(&overrides.TCPAddr, "tcp-addr", "", "TCP protocol server listen address (overrides TCP_ADDR)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("commit", commit).Str("built", buildTime).Msg("grid-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := metrics.NewStats()

	st, err := store.Connect(ctx, cfg.DatabaseURL, log.With().Str("component", "store").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to document store")
	}
	defer st.Close()
	prometheus.MustRegister(metrics.NewDBPoolCollector(st.Pool))

	if err := st.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema initialization failed")
	}
	if err := st.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	live, err := liveness.New(cfg.RedisURL, time.Duration(cfg.DeviceTrackSeconds)*time.Second, log.With().Str("component", "liveness").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to liveness store")
	}
	defer live.Close()

	bus := broadcast.New(log)

	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:    cfg.MQTTBrokerURL,
			ClientID:     cfg.MQTTClientID,
			Topics:       cfg.MQTTTopics,
			QoS:          cfg.MQTTQoS,
			Username:     cfg.MQTTUsername,
			Password:     cfg.MQTTPassword,
			Protocol:     cfg.MQTTProtocol,
			CleanSession: cfg.MQTTCleanSess,
			Keepalive:    cfg.MQTTKeepalive,
			MaxInflight:  cfg.MQTTMaxInflight,
			ReconnectMin: cfg.MQTTReconnMin,
			ReconnectMax: cfg.MQTTReconnMax,
			TLSEnabled:   cfg.MQTTTLSEnabled,
			TLSCAFile:    cfg.MQTTTLSCAFile,
			TLSCertFile:  cfg.MQTTTLSCertFile,
			TLSKeyFile:   cfg.MQTTTLSKeyFile,
			TLSInsecure:  cfg.MQTTTLSInsecure,
			Log:          mqttLog,
			OnStatus:     stats.SetConnected,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		log.Info().Str("broker", cfg.MQTTBrokerURL).Msg("mqtt connected")

		if tw, err := mqttclient.WatchTLSFiles(cfg.MQTTTLSCAFile, cfg.MQTTTLSCertFile, cfg.MQTTTLSKeyFile, mqttLog); err != nil {
			log.Warn().Err(err).Msg("failed to start mqtt tls file watcher")
		} else if tw != nil {
			defer tw.Close()
		}
	} else {
		log.Info().Msg("mqtt not configured")
	}

	rules := validate.NewRules(cfg.RequiredTopics, cfg.RequiredPayloadFields, cfg.RequireDeviceIDTopics)
	ingestPipeline := mqttingest.New(mqttingest.Config{
		QueueCapacity:     cfg.IngestQueueCapacity,
		DropOnFull:        cfg.IngestDropOnFull,
		ReassemblyTTL:     cfg.ReassemblyBufferTTL,
		FanoutWorkers:     cfg.FanoutWorkers,
		FanoutTimeout:     cfg.FanoutTimeout,
		DefaultCollection: cfg.DefaultCollection,
	}, rules, st, bus, live, stats, log)
	ingestPipeline.Start()
	defer ingestPipeline.Stop(10 * time.Second)

	if mqtt != nil {
		mqtt.SetMessageHandler(ingestPipeline.Enqueue)
	}

	solarWriter := newSolarWriter(cfg, st, stats, log)
	defer solarWriter.Stop()

	var tcpSrv *tcpserver.Server
	if cfg.TCPAddr != "" {
		tcpSrv = tcpserver.New(tcpserver.Config{
			Addr:       cfg.TCPAddr,
			Backlog:    cfg.TCPBacklog,
			MaxClients: cfg.TCPMaxClients,
			ConnConfig: tcpserver.ConnConfig{
				RecvBufferBytes:    cfg.TCPRecvBufferBytes,
				ClientTimeout:      cfg.TCPClientTimeout,
				TimeoutMaxRetries:  cfg.TCPTimeoutMaxRetries,
				TimeoutBackoffBase: cfg.TCPTimeoutBackoffBase,
				TimeoutBackoffMax:  cfg.TCPTimeoutBackoffMax,
			},
		}, solarWriter, bus, live, stats, log)

		tcpErrCh := make(chan error, 1)
		go func() { tcpErrCh <- tcpSrv.Serve(ctx) }()
		defer func() {
			tcpSrv.Close()
			tcpSrv.Wait(10 * time.Second)
		}()
	}

	scheduler := aggregation.NewScheduler(st, log)
	scheduler.Start()
	defer scheduler.Stop()

	livenessStop := startLivenessScan(ctx, cfg, live, bus, log)
	defer livenessStop()

	retentionStop := startRetentionLoop(ctx, cfg, st, log)
	defer retentionStop()

	var uploader *archive.AsyncUploader
	if cfg.ArchiveEnabled {
		s3Store, err := archive.NewS3Store(ctx, archive.S3Config{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize archive store")
		}
		uploader = archive.NewAsyncUploader(s3Store, 500, log)
		uploader.Start(2)
		defer uploader.Stop()
		log.Info().Str("bucket", cfg.S3Bucket).Msg("cold-tier archive export enabled")

		exporter := archive.NewExporter(st, uploader)
		exportStop := startArchiveExportLoop(ctx, exporter, log)
		defer exportStop()
	}

	healthHandler := health.New(st, mqtt, bus, stats)

	r := chi.NewRouter()
	r.Use(httpmw.RequestID)
	r.Use(httpmw.RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
	r.Use(httpmw.Recoverer)
	r.Use(httpmw.AccessLog(log))
	r.Use(metrics.InstrumentHandler)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/ws/telemetry", bus.ServeWS("telemetry"))
	r.Get("/ws/tcp_telemetry", bus.ServeWS("tcp_telemetry"))

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	log.Info().Str("listen", cfg.HTTPAddr).Dur("startup_ms", time.Since(startTime)).Msg("grid-engine ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("grid-engine stopped")
}

func startLivenessScan(ctx context.Context, cfg *config.Config, live *liveness.Tracker, bus *broadcast.Bus, log zerolog.Logger) func() {
	thresholds := []liveness.Threshold{
		{Topic: "MQTT_RT_DATA", Staleness: cfg.LivenessThresholdRT},
		{Topic: "CCCL/PURBACHAL/ENV_01", Staleness: cfg.LivenessThresholdENV},
		{Topic: "MQTT_ENY_NOW", Staleness: cfg.LivenessThresholdENYNow},
		{Topic: telemetry.TopicTCPSolar, Staleness: cfg.LivenessThresholdSolar},
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.LivenessScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				for _, th := range thresholds {
					events, err := live.Scan(ctx, th, now)
					if err != nil {
						log.Warn().Err(err).Str("topic", th.Topic).Msg("liveness scan failed")
						continue
					}
					for _, ev := range events {
						bus.Publish("telemetry", "device_status", map[string]any{
							"device_id": ev.DeviceID,
							"status":    ev.Status,
							"last_seen": ev.LastSeen,
							"topic":     ev.Topic,
						})
					}
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func newSolarWriter(cfg *config.Config, st *store.Store, stats *metrics.Stats, log zerolog.Logger) *batchwriter.SolarWriter {
	return batchwriter.NewSolarWriter(
		st, stats, log.With().Str("component", "batchwriter").Logger(),
		cfg.TCPWriterQueueCapacity, cfg.TCPBatchSize, cfg.TCPBatchFlush,
	)
}

func retentionPolicies(cfg *config.Config) []store.RetentionPolicy {
	day := time.Duration(cfg.RetentionTodaySeconds) * time.Second
	week := time.Duration(cfg.Retention7dSeconds) * time.Second
	month := time.Duration(cfg.Retention30dSeconds) * time.Second
	sixMonths := time.Duration(cfg.Retention6moSeconds) * time.Second
	year := time.Duration(cfg.RetentionYearSeconds) * time.Second

	return []store.RetentionPolicy{
		{Collection: telemetry.CollTodaySolar, TTL: day},
		{Collection: telemetry.CollCurrentMonthSolar, TTL: month},

		{Collection: telemetry.CollTodayGridRT, TTL: day},
		{Collection: telemetry.CollLast7dGridRT, TTL: week},
		{Collection: telemetry.CollLast30dGridRT, TTL: month},
		{Collection: telemetry.CollLast6moGridRT, TTL: sixMonths},
		{Collection: telemetry.CollThisYearGridRT, TTL: year},

		{Collection: telemetry.CollTodayEnv, TTL: day},
		{Collection: telemetry.CollLast7dEnv, TTL: week},
		{Collection: telemetry.CollLast30dEnv, TTL: month},
		{Collection: telemetry.CollLast6moEnv, TTL: sixMonths},
		{Collection: telemetry.CollThisYearEnv, TTL: year},

		{Collection: telemetry.CollTodayEnyNow, TTL: day},
		{Collection: telemetry.CollLast30dEnyNow, TTL: month},
		{Collection: telemetry.CollLast6moEnyNow, TTL: sixMonths},
		{Collection: telemetry.CollThisYearEnyNow, TTL: year},
	}
}

// startArchiveExportLoop exports, once a day, the window from 48h to 24h
// ago of every collection in telemetry.AllCollections to cold storage,
// ticking at the same cadence as the retention sweep itself.
func startArchiveExportLoop(ctx context.Context, exporter *archive.Exporter, log zerolog.Logger) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				start := now.Add(-48 * time.Hour)
				end := now.Add(-24 * time.Hour)
				for _, coll := range telemetry.AllCollections {
					if err := exporter.ExportWindow(ctx, coll, start, end); err != nil {
						log.Warn().Err(err).Str("collection", coll).Msg("archive export failed")
					}
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

func startRetentionLoop(ctx context.Context, cfg *config.Config, st *store.Store, log zerolog.Logger) func() {
	policies := retentionPolicies(cfg)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				st.ApplyRetention(ctx, policies)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}
