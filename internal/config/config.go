package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the api and worker processes.
// All values come from env; a local .env file is loaded first when present.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RabbitMQ  RabbitMQConfig
	Gateway   GatewayConfig
	AI        AIConfig
	Ticket    TicketConfig
	Routing   RoutingConfig
	Scheduler SchedulerConfig
	Campaign  CampaignConfig
	Jobs      JobsConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// RabbitMQConfig configures realtime notification fan-out.
// An empty URL disables publishing.
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// GatewayConfig points at the REST chat gateway that owns the channel sessions.
type GatewayConfig struct {
	BaseURL string
	Timeout time.Duration
}

// AIConfig configures the OpenAI-compatible completion endpoint.
type AIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type TicketConfig struct {
	// ReopenWindow is how long a closed ticket can be reopened by a new inbound message.
	ReopenWindow   time.Duration
	ReopenChannels []string

	RatingTimeout time.Duration
	RatingSweep   time.Duration
}

type RoutingConfig struct {
	BotCooldown      time.Duration
	InvalidOptionTTL time.Duration
	TransferSweep    time.Duration
	TransferMarker   time.Duration
}

type SchedulerConfig struct {
	SweepInterval time.Duration
	Grace         time.Duration
	BatchSize     int
	// RequeueAfter is how long an item may sit QUEUED without a live job
	// before the sweep enqueues it again.
	RequeueAfter time.Duration
}

type CampaignConfig struct {
	DiscoverInterval time.Duration
	Lookahead        time.Duration
}

type JobsConfig struct {
	MaxAttempts  int
	LeaseTTL     time.Duration
	PollInterval time.Duration
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optInt("REDIS_DB")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.RabbitMQ.URL = strings.TrimSpace(os.Getenv("RABBITMQ_URL"))
	c.RabbitMQ.Exchange = strings.TrimSpace(os.Getenv("RABBITMQ_EXCHANGE"))

	c.Gateway.BaseURL = strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL"))
	c.Gateway.Timeout = mustDuration("GATEWAY_TIMEOUT")

	c.AI.BaseURL = strings.TrimSpace(os.Getenv("AI_BASE_URL"))
	c.AI.APIKey = os.Getenv("AI_API_KEY")
	c.AI.Model = strings.TrimSpace(os.Getenv("AI_MODEL"))
	c.AI.Timeout = mustDuration("AI_TIMEOUT")

	c.Ticket.ReopenWindow = mustDuration("TICKET_REOPEN_WINDOW")
	c.Ticket.ReopenChannels = splitList(os.Getenv("TICKET_REOPEN_CHANNELS"))
	c.Ticket.RatingTimeout = mustDuration("TICKET_RATING_TIMEOUT")
	c.Ticket.RatingSweep = mustDuration("TICKET_RATING_SWEEP")

	c.Routing.BotCooldown = mustDuration("ROUTING_BOT_COOLDOWN")
	c.Routing.InvalidOptionTTL = mustDuration("ROUTING_INVALID_OPTION_TTL")
	c.Routing.TransferSweep = mustDuration("ROUTING_TRANSFER_SWEEP")
	c.Routing.TransferMarker = mustDuration("ROUTING_TRANSFER_MARKER_TTL")

	c.Scheduler.SweepInterval = mustDuration("SCHEDULER_SWEEP_INTERVAL")
	c.Scheduler.Grace = mustDuration("SCHEDULER_GRACE")
	c.Scheduler.RequeueAfter = mustDuration("SCHEDULER_REQUEUE_AFTER")
	{
		n, err := optInt("SCHEDULER_BATCH_SIZE")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Scheduler.BatchSize = n
	}

	c.Campaign.DiscoverInterval = mustDuration("CAMPAIGN_DISCOVER_INTERVAL")
	c.Campaign.Lookahead = mustDuration("CAMPAIGN_LOOKAHEAD")

	{
		n, err := optInt("JOBS_MAX_ATTEMPTS")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Jobs.MaxAttempts = n
	}
	c.Jobs.LeaseTTL = mustDuration("JOBS_LEASE_TTL")
	c.Jobs.PollInterval = mustDuration("JOBS_POLL_INTERVAL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults for optional ones.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Gateway.BaseURL == "" {
			errs = append(errs, errors.New("GATEWAY_BASE_URL is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.RabbitMQ.URL != "" && c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "omnichat.events"
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 15 * time.Second
	}
	if c.AI.Timeout <= 0 {
		c.AI.Timeout = 30 * time.Second
	}
	if c.AI.BaseURL != "" && c.AI.APIKey == "" {
		errs = append(errs, errors.New("AI_API_KEY is required when AI_BASE_URL is set"))
	}

	if c.Ticket.ReopenWindow < 0 {
		errs = append(errs, errors.New("TICKET_REOPEN_WINDOW must not be negative"))
	} else if c.Ticket.ReopenWindow == 0 {
		c.Ticket.ReopenWindow = 2 * time.Hour
	}
	if len(c.Ticket.ReopenChannels) == 0 {
		c.Ticket.ReopenChannels = []string{"whatsapp"}
	}
	if c.Ticket.RatingTimeout <= 0 {
		c.Ticket.RatingTimeout = 15 * time.Minute
	}
	if c.Ticket.RatingSweep <= 0 {
		c.Ticket.RatingSweep = time.Minute
	}

	if c.Routing.BotCooldown <= 0 {
		c.Routing.BotCooldown = 30 * time.Minute
	}
	if c.Routing.InvalidOptionTTL <= 0 {
		c.Routing.InvalidOptionTTL = 5 * time.Minute
	}
	if c.Routing.TransferSweep <= 0 {
		c.Routing.TransferSweep = 15 * time.Second
	}
	if c.Routing.TransferMarker <= 0 {
		c.Routing.TransferMarker = 30 * time.Second
	}

	if c.Scheduler.SweepInterval <= 0 {
		c.Scheduler.SweepInterval = 5 * time.Second
	}
	if c.Scheduler.Grace <= 0 {
		c.Scheduler.Grace = time.Second
	}
	if c.Scheduler.RequeueAfter <= 0 {
		c.Scheduler.RequeueAfter = 5 * time.Minute
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 500
	}

	if c.Campaign.DiscoverInterval <= 0 {
		c.Campaign.DiscoverInterval = 20 * time.Second
	}
	if c.Campaign.Lookahead <= 0 {
		c.Campaign.Lookahead = time.Hour
	}

	if c.Jobs.MaxAttempts < 0 {
		errs = append(errs, errors.New("JOBS_MAX_ATTEMPTS must not be negative"))
	} else if c.Jobs.MaxAttempts == 0 {
		c.Jobs.MaxAttempts = 3
	}
	if c.Jobs.LeaseTTL <= 0 {
		c.Jobs.LeaseTTL = time.Minute
	}
	if c.Jobs.PollInterval <= 0 {
		c.Jobs.PollInterval = time.Second
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(key string) (int, error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, nil
	}
	return mustInt(key)
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
