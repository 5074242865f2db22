package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/text/currency"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultShutdownTimeout      = 10 * time.Second
	defaultStoreDriver          = StoreDriverFirestore
	defaultWebhookHeader        = "X-Gateway-Signature"
	defaultGatewayProvider      = "stripe"
	defaultGatewayTimeout       = 10 * time.Second
	defaultOrderNumberPrefix    = "AMZ"
	defaultCurrency             = "USD"
	defaultTaxRateBps           = 800
	defaultShippingFee          = 500
	defaultFreeShippingMinimum  = 5000
	defaultBreakerMaxRequests   = 5
	defaultBreakerInterval      = 30 * time.Second
	defaultBreakerTimeout       = 10 * time.Second
	defaultBreakerFailures      = 5
	defaultOrderEventsTopic     = "order-events"
	defaultNotificationsTopic   = "order-notifications"
	defaultPublishTimeout       = 5 * time.Second
	defaultRedisAddr            = "localhost:6379"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyBackend   = IdempotencyBackendRedis
	defaultFXEndpoint           = "https://open.er-api.com/v6/latest"
	defaultFXCacheTTL           = time.Hour
	defaultFXTimeout            = 5 * time.Second
	defaultWebhookPerMinute     = 60
	defaultSecurityEnvironment  = "local"
	maxTaxRateBasisPoints       = 10000
	minimumBreakerConsecutive   = 1
	minimumIdempotencyKeyWindow = time.Minute
)

const (
	// StoreDriverFirestore persists orders in Cloud Firestore.
	StoreDriverFirestore = "firestore"
	// StoreDriverMemory keeps orders in process memory; intended for local runs.
	StoreDriverMemory = "memory"

	// IdempotencyBackendRedis stores idempotency records in Redis.
	IdempotencyBackendRedis = "redis"
	// IdempotencyBackendMemory keeps idempotency records in process memory.
	IdempotencyBackendMemory = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Store       StoreConfig
	Gateway     GatewayConfig
	Checkout    CheckoutConfig
	Breaker     BreakerConfig
	PubSub      PubSubConfig
	Redis       RedisConfig
	Idempotency IdempotencyConfig
	FX          FXConfig
	RateLimits  RateLimitConfig
	Security    SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StoreConfig selects the order store implementation.
type StoreConfig struct {
	Driver string
	// CatalogFile seeds product prices for the memory driver.
	CatalogFile string
}

// GatewayConfig collects payment gateway credentials and routing.
type GatewayConfig struct {
	StripeAPIKey           string
	StripeAccountID        string
	KeySecret              string
	WebhookSecret          string
	WebhookSignatureHeader string
	DefaultProvider        string
	MethodRoutes           map[string]string
	CallTimeout            time.Duration
	OrderNumberPrefix      string
}

// CheckoutConfig holds the pricing policy applied when orders are created.
// Monetary values are minor units of DefaultCurrency.
type CheckoutConfig struct {
	DefaultCurrency       string
	TaxRateBasisPoints    int
	ShippingFee           int64
	FreeShippingThreshold int64
}

// BreakerConfig tunes the circuit breaker around gateway calls.
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// PubSubConfig names the topics used for domain events and notifications.
type PubSubConfig struct {
	ProjectID          string
	EmulatorHost       string
	OrderEventsTopic   string
	NotificationsTopic string
	PublishTimeout     time.Duration
}

// RedisConfig locates the Redis instance backing idempotency records.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header  string
	TTL     time.Duration
	Backend string
}

// FXConfig configures the exchange rate collaborator.
type FXConfig struct {
	Endpoint string
	CacheTTL time.Duration
	Timeout  time.Duration
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	WebhookPerMinute int
}

// SecurityConfig groups deployment-level security settings.
type SecurityConfig struct {
	Environment string
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map which takes precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks config fields (e.g. "Gateway.WebhookSecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so callers
// can build dependencies such as the secret resolver before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	src, err := newSource(options)
	if err != nil {
		return nil, err
	}
	return src.merged(), nil
}

// Load assembles the application configuration from defaults, .env overrides,
// environment variables and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	options.secret = SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	})
	for _, opt := range opts {
		opt(&options)
	}

	src, err := newSource(options)
	if err != nil {
		return Config{}, err
	}
	lookup := src.lookup

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(stringWithDefault(lookup, "API_STORE_DRIVER", defaultStoreDriver)),
			CatalogFile: stringWithDefault(lookup, "API_STORE_CATALOG_FILE", ""),
		},
		Gateway: GatewayConfig{
			StripeAPIKey:           stringWithDefault(lookup, "API_GATEWAY_STRIPE_API_KEY", ""),
			StripeAccountID:        stringWithDefault(lookup, "API_GATEWAY_STRIPE_ACCOUNT_ID", ""),
			KeySecret:              stringWithDefault(lookup, "API_GATEWAY_KEY_SECRET", ""),
			WebhookSecret:          stringWithDefault(lookup, "API_GATEWAY_WEBHOOK_SECRET", ""),
			WebhookSignatureHeader: stringWithDefault(lookup, "API_GATEWAY_WEBHOOK_HEADER", defaultWebhookHeader),
			DefaultProvider:        strings.ToLower(stringWithDefault(lookup, "API_GATEWAY_DEFAULT_PROVIDER", defaultGatewayProvider)),
			MethodRoutes:           mapWithDefault(lookup, "API_GATEWAY_METHOD_ROUTES"),
			CallTimeout:            durationWithDefault(lookup, "API_GATEWAY_CALL_TIMEOUT", defaultGatewayTimeout),
			OrderNumberPrefix:      strings.ToUpper(stringWithDefault(lookup, "API_ORDER_NUMBER_PREFIX", defaultOrderNumberPrefix)),
		},
		Checkout: CheckoutConfig{
			DefaultCurrency:       strings.ToUpper(stringWithDefault(lookup, "API_CHECKOUT_CURRENCY", defaultCurrency)),
			TaxRateBasisPoints:    intWithDefault(lookup, "API_CHECKOUT_TAX_RATE_BPS", defaultTaxRateBps),
			ShippingFee:           int64WithDefault(lookup, "API_CHECKOUT_SHIPPING_FEE", defaultShippingFee),
			FreeShippingThreshold: int64WithDefault(lookup, "API_CHECKOUT_FREE_SHIPPING_MIN", defaultFreeShippingMinimum),
		},
		Breaker: BreakerConfig{
			MaxRequests:         uint32(intWithDefault(lookup, "API_BREAKER_MAX_REQUESTS", defaultBreakerMaxRequests)),
			Interval:            durationWithDefault(lookup, "API_BREAKER_INTERVAL", defaultBreakerInterval),
			Timeout:             durationWithDefault(lookup, "API_BREAKER_TIMEOUT", defaultBreakerTimeout),
			ConsecutiveFailures: uint32(intWithDefault(lookup, "API_BREAKER_CONSECUTIVE_FAILURES", defaultBreakerFailures)),
		},
		PubSub: PubSubConfig{
			ProjectID:          stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			EmulatorHost:       stringWithDefault(lookup, "API_PUBSUB_EMULATOR_HOST", ""),
			OrderEventsTopic:   stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", defaultOrderEventsTopic),
			NotificationsTopic: stringWithDefault(lookup, "API_PUBSUB_NOTIFICATIONS_TOPIC", defaultNotificationsTopic),
			PublishTimeout:     durationWithDefault(lookup, "API_PUBSUB_PUBLISH_TIMEOUT", defaultPublishTimeout),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", defaultRedisAddr),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		Idempotency: IdempotencyConfig{
			Header:  stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:     durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			Backend: strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_BACKEND", defaultIdempotencyBackend)),
		},
		FX: FXConfig{
			Endpoint: stringWithDefault(lookup, "API_FX_ENDPOINT", defaultFXEndpoint),
			CacheTTL: durationWithDefault(lookup, "API_FX_CACHE_TTL", defaultFXCacheTTL),
			Timeout:  durationWithDefault(lookup, "API_FX_TIMEOUT", defaultFXTimeout),
		},
		RateLimits: RateLimitConfig{
			WebhookPerMinute: intWithDefault(lookup, "API_RATELIMIT_WEBHOOK_PER_MIN", defaultWebhookPerMinute),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Gateway.StripeAPIKey", &cfg.Gateway.StripeAPIKey},
		{"Gateway.KeySecret", &cfg.Gateway.KeySecret},
		{"Gateway.WebhookSecret", &cfg.Gateway.WebhookSecret},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		invalid = append(invalid, "Firebase.ProjectID")
	}
	switch cfg.Store.Driver {
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case StoreDriverMemory:
	default:
		invalid = append(invalid, "Store.Driver")
	}
	if strings.TrimSpace(cfg.Gateway.WebhookSignatureHeader) == "" {
		invalid = append(invalid, "Gateway.WebhookSignatureHeader")
	}
	if strings.TrimSpace(cfg.Gateway.OrderNumberPrefix) == "" {
		invalid = append(invalid, "Gateway.OrderNumberPrefix")
	}
	if _, err := currency.ParseISO(cfg.Checkout.DefaultCurrency); err != nil {
		invalid = append(invalid, "Checkout.DefaultCurrency")
	}
	if cfg.Checkout.TaxRateBasisPoints < 0 || cfg.Checkout.TaxRateBasisPoints > maxTaxRateBasisPoints {
		invalid = append(invalid, "Checkout.TaxRateBasisPoints")
	}
	if cfg.Checkout.ShippingFee < 0 {
		invalid = append(invalid, "Checkout.ShippingFee")
	}
	if cfg.Breaker.ConsecutiveFailures < minimumBreakerConsecutive {
		invalid = append(invalid, "Breaker.ConsecutiveFailures")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL < minimumIdempotencyKeyWindow {
		invalid = append(invalid, "Idempotency.TTL")
	}
	switch cfg.Idempotency.Backend {
	case IdempotencyBackendRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			invalid = append(invalid, "Redis.Addr")
		}
	case IdempotencyBackendMemory:
	default:
		invalid = append(invalid, "Idempotency.Backend")
	}
	if cfg.FX.CacheTTL <= 0 {
		invalid = append(invalid, "FX.CacheTTL")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
