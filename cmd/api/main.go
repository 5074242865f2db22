package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/storefront/api/internal/di"
	"github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/handlers"
	"github.com/storefront/api/internal/payments"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/config"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/fxrates"
	"github.com/storefront/api/internal/platform/idempotency"
	"github.com/storefront/api/internal/platform/jobs"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/secrets"
	"github.com/storefront/api/internal/repositories"
	firestoreRepo "github.com/storefront/api/internal/repositories/firestore"
	"github.com/storefront/api/internal/repositories/memory"
	"github.com/storefront/api/internal/services"
)

const (
	idempotencyCleanupInterval = 5 * time.Minute
	idempotencyCleanupBatch    = 500
	fxCacheMaxAge              = 5 * time.Minute
	authVerifyTimeout          = 5 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	var checks []repositories.DependencyCheck

	var firestoreProvider *pfirestore.Provider
	if cfg.Store.Driver == config.StoreDriverFirestore {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		if _, err := firestoreProvider.Client(ctx); err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		checks = append(checks, repositories.DependencyCheck{
			Name:     "firestore",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Check:    firestoreProvider.Ping,
		})
	}

	idempotencyStore, idempotencyCheck, closeIdempotency := newIdempotencyStore(cfg, logger)
	defer closeIdempotency()
	if idempotencyCheck != nil {
		checks = append(checks, *idempotencyCheck)
	}
	if secretProject(envValues) != "" {
		checks = append(checks, secretManagerCheck(resolver))
	}

	pubsubClient, err := newPubSubClient(ctx, cfg.PubSub)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	var (
		events   services.OrderEventPublisher
		notifier services.OrderNotifier
	)
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		eventsTopic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
		defer eventsTopic.Stop()
		publisher, err := jobs.NewPubSubOrderEventPublisher(eventsTopic, cfg.PubSub.PublishTimeout)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		events = publisher

		notificationsTopic := pubsubClient.Topic(cfg.PubSub.NotificationsTopic)
		defer notificationsTopic.Stop()
		orderNotifier, err := jobs.NewPubSubOrderNotifier(notificationsTopic, cfg.PubSub.PublishTimeout)
		if err != nil {
			logger.Fatal("failed to initialise order notifier", zap.Error(err))
		}
		notifier = orderNotifier

		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check:   topicCheck(eventsTopic),
		})
	} else {
		logger.Warn("pubsub project not configured; order events and notifications are disabled")
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	var registry repositories.Registry
	switch cfg.Store.Driver {
	case config.StoreDriverFirestore:
		registry, err = firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
		if err != nil {
			logger.Fatal("failed to initialise firestore repositories", zap.Error(err))
		}
	default:
		catalog, err := loadCatalog(cfg.Store.CatalogFile)
		if err != nil {
			logger.Fatal("failed to load product catalog", zap.Error(err))
		}
		logger.Warn("using in-memory order store", zap.Int("products", len(catalog)))
		registry = memory.NewRegistry(catalog, healthRepo)
	}

	gateway, err := newPaymentManager(cfg, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Dependencies{
		Gateway:  gateway,
		Events:   events,
		Notifier: notifier,
		FXSource: fxrates.NewClient(cfg.FX.Endpoint, cfg.FX.Timeout, nil),
		Build:    buildInfo,
		Logger:   logger,
		Clock:    time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, authVerifyTimeout)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotent := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if memoryStore, ok := idempotencyStore.(*idempotency.MemoryStore); ok {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			runIdempotencyCleanup(cleanupCtx, memoryStore, logger.Named("idempotency"))
		}()
	}

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, handlers.WithOrderIdempotency(idempotent))
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, svc.Payments, idempotent)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Payments, cfg.Gateway.WebhookSignatureHeader)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, svc.Orders, svc.Refunds, idempotent)
	publicHandlers := handlers.NewPublicHandlers(svc.FX, fxCacheMaxAge)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicRoutes(publicHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithWebhookMiddlewares(handlers.RateLimitMiddleware(cfg.RateLimits.WebhookPerMinute, time.Minute, time.Now)),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening",
			zap.String("store", cfg.Store.Driver),
			zap.String("environment", buildInfo.Environment),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	opts := []secrets.Option{
		secrets.WithProject(secretProject(env)),
		secrets.WithLogger(logger.Named("secrets")),
	}
	if path := strings.TrimSpace(env["API_SECRET_FALLBACK_FILE"]); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if credentials := strings.TrimSpace(env["API_FIREBASE_CREDENTIALS_FILE"]); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewResolver(ctx, opts...)
}

func secretProject(env map[string]string) string {
	if project := strings.TrimSpace(env["API_SECRET_PROJECT_ID"]); project != "" {
		return project
	}
	return strings.TrimSpace(env["API_FIREBASE_PROJECT_ID"])
}

// requiredSecretNames lists the secrets startup cannot proceed without. The Stripe key is
// only needed when a payment method routes to Stripe.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Gateway.KeySecret", "Gateway.WebhookSecret"}
	if stripeRouted(env) {
		required = append(required, "Gateway.StripeAPIKey")
	}
	if strings.ToLower(strings.TrimSpace(env["API_IDEMPOTENCY_BACKEND"])) == config.IdempotencyBackendRedis &&
		strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	sort.Strings(required)
	return required
}

func stripeRouted(env map[string]string) bool {
	provider := strings.ToLower(strings.TrimSpace(env["API_GATEWAY_DEFAULT_PROVIDER"]))
	if provider == "" || provider == payments.ProviderStripe {
		return true
	}
	return strings.Contains(strings.ToLower(env["API_GATEWAY_METHOD_ROUTES"]), payments.ProviderStripe)
}

// secretManagerCheck probes Secret Manager with a reference that need not exist; a not found
// answer still proves the API is reachable.
func secretManagerCheck(resolver *secrets.Resolver) repositories.DependencyCheck {
	const reference = "secret://system-healthz"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := resolver.ResolveSecret(ctx, reference)
			if err == nil {
				return nil
			}
			if errors.Is(err, secrets.ErrSecretNotFound) {
				return nil
			}
			return err
		},
	}
}

func newIdempotencyStore(cfg config.Config, logger *zap.Logger) (idempotency.Store, *repositories.DependencyCheck, func()) {
	if cfg.Idempotency.Backend != config.IdempotencyBackendRedis {
		logger.Info("idempotency keys kept in process memory")
		return idempotency.NewMemoryStore(), nil, func() {}
	}
	client := idempotency.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	store := idempotency.NewRedisStore(client, "")
	check := &repositories.DependencyCheck{
		Name:     "redis",
		Timeout:  time.Second,
		Critical: true,
		Check:    store.Ping,
	}
	return store, check, func() {
		if err := client.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
}

func runIdempotencyCleanup(ctx context.Context, store *idempotency.MemoryStore, logger *zap.Logger) {
	ticker := time.NewTicker(idempotencyCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if removed := store.CleanupExpired(time.Now().UTC(), idempotencyCleanupBatch); removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

// newPubSubClient returns nil when no project is configured.
func newPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Client, error) {
	project := strings.TrimSpace(cfg.ProjectID)
	if project == "" {
		return nil, nil
	}
	var opts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	return pubsub.NewClient(ctx, project, opts...)
}

func topicCheck(topic *pubsub.Topic) func(context.Context) error {
	return func(ctx context.Context) error {
		exists, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("topic %s not found", topic.ID())
		}
		return nil
	}
}

func newPaymentManager(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	breaker := payments.BreakerSettings{
		MaxRequests:         cfg.Breaker.MaxRequests,
		Interval:            cfg.Breaker.Interval,
		Timeout:             cfg.Breaker.Timeout,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		CallTimeout:         cfg.Gateway.CallTimeout,
		OnStateChange: func(name, from, to string) {
			logger.Warn("payment gateway breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from),
				zap.String("to", to),
			)
		},
	}

	providers := map[string]payments.Provider{
		payments.ProviderOffline: payments.NewOfflineProvider(),
	}
	if strings.TrimSpace(cfg.Gateway.StripeAPIKey) != "" {
		backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
			LeveledLogger: observability.NewLeveledAdapter(logger.Named("stripe")),
		})
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    cfg.Gateway.StripeAPIKey,
			AccountID: cfg.Gateway.StripeAccountID,
			Backends:  backends,
			Logger:    payments.StripeLogger(observability.ServiceLogger(logger.Named("stripe"))),
		})
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		guarded, err := payments.NewGuardedProvider(payments.ProviderStripe, stripeProvider, breaker)
		if err != nil {
			return nil, fmt.Errorf("stripe breaker: %w", err)
		}
		providers[payments.ProviderStripe] = guarded
	} else {
		logger.Warn("stripe api key not configured; only offline payments are available")
	}

	opts := []payments.ManagerOption{payments.WithMethodRoutes(cfg.Gateway.MethodRoutes)}
	if _, ok := providers[cfg.Gateway.DefaultProvider]; ok {
		opts = append(opts, payments.WithDefaultProvider(cfg.Gateway.DefaultProvider))
	}
	return payments.NewManager(providers, opts...)
}

type catalogEntry struct {
	ProductRef string `json:"productRef"`
	Name       string `json:"name"`
	UnitPrice  int64  `json:"unitPrice"`
	Currency   string `json:"currency"`
	Active     *bool  `json:"active"`
}

// loadCatalog reads product prices for the memory store. An empty path yields an empty catalog.
func loadCatalog(path string) ([]domain.ProductPrice, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var entries []catalogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	prices := make([]domain.ProductPrice, 0, len(entries))
	for i, entry := range entries {
		ref := strings.TrimSpace(entry.ProductRef)
		if ref == "" {
			return nil, fmt.Errorf("catalog entry %d: productRef is required", i)
		}
		if entry.UnitPrice < 0 {
			return nil, fmt.Errorf("catalog entry %s: unitPrice must not be negative", ref)
		}
		currency, err := domain.NormalizeCurrency(entry.Currency)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %s: %w", ref, err)
		}
		active := true
		if entry.Active != nil {
			active = *entry.Active
		}
		prices = append(prices, domain.ProductPrice{
			ProductRef: ref,
			Name:       strings.TrimSpace(entry.Name),
			UnitPrice:  entry.UnitPrice,
			Currency:   currency,
			Active:     active,
		})
	}
	return prices, nil
}
