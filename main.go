package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	alertapp "moldwatch-cloud/internal/alerts/application"
	alerts "moldwatch-cloud/internal/alerts/domain"
	alertrepo "moldwatch-cloud/internal/alerts/infrastructure/postgres"
	alertinterfaces "moldwatch-cloud/internal/alerts/interfaces"
	alerthttp "moldwatch-cloud/internal/alerts/interfaces/http"
	alertnotify "moldwatch-cloud/internal/alerts/notify"
	apihttp "moldwatch-cloud/internal/api/http"
	"moldwatch-cloud/internal/audit"
	"moldwatch-cloud/internal/auth"
	commandsapp "moldwatch-cloud/internal/commands/application"
	commandsevents "moldwatch-cloud/internal/commands/application/events"
	commandsrepo "moldwatch-cloud/internal/commands/infrastructure/postgres"
	commandsinterfaces "moldwatch-cloud/internal/commands/interfaces"
	commandsdevice "moldwatch-cloud/internal/commands/interfaces/device"
	commandshttp "moldwatch-cloud/internal/commands/interfaces/http"
	"moldwatch-cloud/internal/devicecloud"
	"moldwatch-cloud/internal/eventing"
	"moldwatch-cloud/internal/eventing/eventbus"
	eventingrepo "moldwatch-cloud/internal/eventing/infrastructure/postgres"
	masterdata "moldwatch-cloud/internal/masterdata/domain"
	masterdatarepo "moldwatch-cloud/internal/masterdata/infrastructure/postgres"
	"moldwatch-cloud/internal/observability/metrics"
	provisioning "moldwatch-cloud/internal/provisioning/application"
	provisioninghttp "moldwatch-cloud/internal/provisioning/interfaces/http"
	timelineapp "moldwatch-cloud/internal/timeline/application"
	wakeevents "moldwatch-cloud/internal/wake/application/events"
	wakerepo "moldwatch-cloud/internal/wake/infrastructure/postgres"
	wakedevice "moldwatch-cloud/internal/wake/interfaces/device"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
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

	metrics.Init(db, logger)
	siteChecker := auth.NewSiteChecker(db)
	auditRepo := audit.NewRepository(db)

	siteRepo := masterdatarepo.NewSiteRepository(db)
	deviceRepo := masterdatarepo.NewDeviceRepository(db)
	placementRepo := masterdatarepo.NewPlacementRepository(db)

	baseBus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(wakeevents.WakeReceived{})
	registry.Register(wakeevents.SnapshotReconciled{})
	registry.Register(commandsevents.CommandIssued{})
	registry.Register(commandsevents.CommandAcked{})
	registry.Register(commandsevents.CommandFailed{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(baseBus, outboxStore, registry, dlqStore)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, cfg.TenantID, baseBus)

	// Drain outbox rows whose inline dispatch failed.
	go func() {
		ticker := time.NewTicker(cfg.DispatchInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := dispatcher.Dispatch(context.Background(), 100); err != nil {
				logger.Printf("outbox dispatch error: %v", err)
			}
		}
	}()

	wakeReportRepo := wakerepo.NewReportRepository(db)
	snapshotQuery := wakerepo.NewSnapshotQuery(db)
	ingestHandler, err := wakedevice.NewIngestHandler(wakeReportRepo, publisher, logger)
	if err != nil {
		logger.Fatalf("wake ingest handler error: %v", err)
	}

	timelineService, err := timelineapp.NewService(snapshotQuery, nil, publisher, cfg.TenantID)
	if err != nil {
		logger.Fatalf("timeline service error: %v", err)
	}

	alertCfg, err := alertapp.LoadConfig()
	if err != nil {
		logger.Fatalf("alerts config error: %v", err)
	}
	alertRepo := alertrepo.NewAlertRepository(db)
	deviceStateRepo := alertrepo.NewDeviceStateRepository(db)
	alertBroker := alerthttp.NewSSEBroker()
	alertNotifiers := []alertapp.AlertNotifier{alertBroker}
	if alertCfg.WebhookURL != "" {
		channel, err := alertnotify.NewWebhookChannel(alertCfg.WebhookURL)
		if err != nil {
			logger.Fatalf("alert webhook error: %v", err)
		}
		opts := []alertnotify.Option{
			alertnotify.WithEscalation(alertCfg.Escalation),
			alertnotify.WithCooldown(alertCfg.Cooldown),
			alertnotify.WithDedupeWindow(alertCfg.DedupeWindow),
			alertnotify.WithDeviceReader(deviceRepo),
			alertnotify.WithReportURLResolver(buildReportURLResolver(alertCfg.PublicBaseURL)),
		}
		notifier, err := alertnotify.NewNotifier(siteRepo, alertRepo, channel, nil, opts...)
		if err != nil {
			logger.Fatalf("alert notifier error: %v", err)
		}
		alertNotifiers = append(alertNotifiers, notifier)
	}
	alertService, err := alertapp.NewService(alertRepo, deviceStateRepo, alertCfg, cfg.TenantID,
		alertapp.WithNotifier(alertnotify.NewMultiNotifier(alertNotifiers...)))
	if err != nil {
		logger.Fatalf("alert service error: %v", err)
	}
	alertConsumer, err := alertinterfaces.NewWakeReceivedConsumer(alertService)
	if err != nil {
		logger.Fatalf("alert consumer error: %v", err)
	}
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[wakeevents.WakeReceived](), "alerts.wake", func(ctx context.Context, event any) error {
		evt, ok := event.(wakeevents.WakeReceived)
		if !ok {
			return eventbus.ErrInvalidEventType
		}
		return alertConsumer.Consume(ctx, evt)
	}, processedStore)

	gateway, err := devicecloud.NewClient(cfg.GatewayBaseURL, cfg.GatewayToken)
	if err != nil {
		logger.Fatalf("gateway client error: %v", err)
	}
	provisionService, err := provisioning.NewService(db, gateway)
	if err != nil {
		logger.Fatalf("provisioning service error: %v", err)
	}
	provisionHandler, err := provisioninghttp.NewSiteProvisioningHandler(provisionService, auditRepo)
	if err != nil {
		logger.Fatalf("provisioning handler error: %v", err)
	}

	commandRepo := commandsrepo.NewCommandRepository(db)
	commandService, err := commandsapp.NewService(commandRepo, publisher, cfg.TenantID)
	if err != nil {
		logger.Fatalf("command service error: %v", err)
	}
	commandHandler, err := commandshttp.NewHandler(commandService, siteChecker, auditRepo)
	if err != nil {
		logger.Fatalf("command handler error: %v", err)
	}
	commandConsumer, err := commandsinterfaces.NewGatewayConsumer(commandRepo, gateway, deviceRepo, publisher, logger)
	if err != nil {
		logger.Fatalf("command consumer error: %v", err)
	}
	eventing.Subscribe(baseBus, eventbus.EventTypeOf[commandsevents.CommandIssued](), "gateway.dispatch", commandConsumer.HandleCommandIssued, processedStore)

	commandPollHandler, err := commandsdevice.NewPollHandler(commandRepo, publisher, cfg.TenantID, logger)
	if err != nil {
		logger.Fatalf("command poll handler error: %v", err)
	}

	// Commands a sleeping device never collected expire after the
	// configured window.
	go func() {
		ticker := time.NewTicker(cfg.CommandScanInterval)
		defer ticker.Stop()
		for tick := range ticker.C {
			expired, err := commandService.MarkTimeouts(context.Background(), tick.UTC().Add(-cfg.CommandTimeoutAfter))
			if err != nil {
				logger.Printf("command timeout scan error: %v", err)
				continue
			}
			if expired > 0 {
				logger.Printf("command timeout scan: expired=%d", expired)
			}
		}
	}()

	sitesHandler, err := apihttp.NewSitesHandler(siteRepo, cfg.TenantID)
	if err != nil {
		logger.Fatalf("sites handler error: %v", err)
	}
	siteRoutes, err := apihttp.NewSiteRoutes(
		timelineService,
		siteRepo,
		deviceRepo,
		placementRepo,
		alertCfg.ThresholdsForSite,
		siteChecker,
		auditRepo,
		cfg.TenantID,
	)
	if err != nil {
		logger.Fatalf("site routes error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/", "/device/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	ingestAuth := auth.NewIngestAuthMiddleware([]byte(cfg.IngestSecret), time.Duration(cfg.IngestSkewSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.Handle("/ingest/device/wake", ingestAuth.Wrap(ingestHandler))
	mux.Handle("/device/commands", ingestAuth.Wrap(commandPollHandler))
	mux.Handle("/api/v1/provisioning/sites", provisionHandler)
	mux.Handle("/api/v1/commands", commandHandler)
	mux.Handle("/api/v1/sites", sitesHandler)
	mux.Handle("/api/v1/sites/", siteRoutes)
	mux.Handle("/api/v1/alerts/stream", alerthttp.NewStreamHandler(alertBroker))
	alertHandler, err := alerthttp.NewHandler(alertService, siteChecker)
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}
	mux.Handle("/api/v1/alerts", alertHandler)
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
	DatabaseURL         string
	HTTPAddr            string
	TenantID            string
	GatewayBaseURL      string
	GatewayToken        string
	JWTSecret           string
	IngestSecret        string
	IngestSkewSeconds   int
	DispatchInterval    time.Duration
	CommandTimeoutAfter time.Duration
	CommandScanInterval time.Duration
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:         getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:            getenvDefault("HTTP_ADDR", ":8080"),
		TenantID:            getenvDefault("TENANT_ID", "tenant-demo"),
		GatewayBaseURL:      getenvDefault("GATEWAY_BASE_URL", ""),
		GatewayToken:        getenvDefault("GATEWAY_TOKEN", ""),
		JWTSecret:           getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		IngestSecret:        getenvDefault("INGEST_HMAC_SECRET", ""),
		IngestSkewSeconds:   getenvIntDefault("INGEST_MAX_SKEW_SECONDS", 300),
		DispatchInterval:    getenvDuration("OUTBOX_DISPATCH_INTERVAL", 5*time.Second),
		CommandTimeoutAfter: getenvDuration("COMMAND_TIMEOUT_AFTER", 2*time.Hour),
		CommandScanInterval: getenvDuration("COMMAND_SCAN_INTERVAL", 5*time.Minute),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.GatewayBaseURL == "" {
		log.Fatal("GATEWAY_BASE_URL is required")
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

// buildReportURLResolver links alert notifications to the site report
// export covering the alert window.
func buildReportURLResolver(baseURL string) alertnotify.ReportURLResolver {
	if baseURL == "" {
		return nil
	}
	return func(_ context.Context, alert alerts.Alert, _ *masterdata.Site) string {
		if alert.SiteID == "" {
			return ""
		}
		from := alert.StartAt.UTC().Add(-time.Hour).Format(time.RFC3339)
		to := time.Now().UTC().Format(time.RFC3339)
		return baseURL + "/api/v1/sites/" + alert.SiteID + "/export.pdf?from=" + from + "&to=" + to
	}
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
