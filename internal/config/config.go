package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Agent identity
	Version string // cache namespace tag, bumped on redeploy
	Origin  string // site origin used for click navigation fallbacks

	// Upstream API
	APIBaseURL string
	APIToken   string // page-side fallback credential, bridged on startup
	UserID     string

	// Redis (shared advisory device storage)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Postgres (optional durable notification mirror)
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Push delivery (SQS queue the upstream publishes push payloads to)
	PushQueueURL    string
	PushQueueRegion string
	PushKeyP256dh   string
	PushKeyAuth     string

	// Native display channels
	AWSRegion        string
	SESFromEmail     string
	NotifyEmail      string // destination address for the email channel
	SNSRegion        string
	NotifyPhone      string // destination number for the SMS channel
	NotifyWebhookURL string // local toast relay endpoint
	WebhookTimeout   int    // seconds

	// Auto-refresh interval for the notification store, in seconds
	RefreshInterval int

	// Live log stream
	StreamEnabled bool
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8090,
		LogLevel: "info",
		Env:      "development",

		Version: "v1",
		Origin:  "http://localhost:3000",

		APIBaseURL: "http://localhost:8080",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		DBPort:    5432,
		DBUser:    "lalithlochan",
		DBName:    "beacon",
		DBSSLMode: "disable",

		AWSRegion:    "us-east-1",
		SESFromEmail: "alerts@beacon.local",

		WebhookTimeout:  30,
		RefreshInterval: 30,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if v := os.Getenv("AGENT_VERSION"); v != "" {
		cfg.Version = v
	}

	if origin := os.Getenv("APP_ORIGIN"); origin != "" {
		cfg.Origin = origin
	}

	// Upstream API
	if url := os.Getenv("API_BASE_URL"); url != "" {
		cfg.APIBaseURL = url
	}

	if token := os.Getenv("API_TOKEN"); token != "" {
		cfg.APIToken = token
	}

	if user := os.Getenv("USER_ID"); user != "" {
		cfg.UserID = user
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Database config (mirror disabled when DB_HOST unset)
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	// Push delivery config
	if url := os.Getenv("PUSH_QUEUE_URL"); url != "" {
		cfg.PushQueueURL = url
	}

	if region := os.Getenv("PUSH_QUEUE_REGION"); region != "" {
		cfg.PushQueueRegion = region
	} else {
		cfg.PushQueueRegion = cfg.AWSRegion
	}

	if key := os.Getenv("PUSH_KEY_P256DH"); key != "" {
		cfg.PushKeyP256dh = key
	}

	if key := os.Getenv("PUSH_KEY_AUTH"); key != "" {
		cfg.PushKeyAuth = key
	}

	// Display channel config
	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if to := os.Getenv("NOTIFY_EMAIL"); to != "" {
		cfg.NotifyEmail = to
	}

	if region := os.Getenv("SNS_REGION"); region != "" {
		cfg.SNSRegion = region
	} else {
		cfg.SNSRegion = cfg.AWSRegion
	}

	if phone := os.Getenv("NOTIFY_PHONE"); phone != "" {
		cfg.NotifyPhone = phone
	}

	if url := os.Getenv("NOTIFY_WEBHOOK_URL"); url != "" {
		cfg.NotifyWebhookURL = url
	}

	if timeout := os.Getenv("WEBHOOK_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
		}
		cfg.WebhookTimeout = t
	}

	if interval := os.Getenv("REFRESH_INTERVAL"); interval != "" {
		i, err := strconv.Atoi(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid REFRESH_INTERVAL: %w", err)
		}
		cfg.RefreshInterval = i
	}

	if stream := os.Getenv("STREAM_ENABLED"); stream != "" {
		b, err := strconv.ParseBool(stream)
		if err != nil {
			return nil, fmt.Errorf("invalid STREAM_ENABLED: %w", err)
		}
		cfg.StreamEnabled = b
	}

	return cfg, nil
}

// MirrorEnabled reports whether the durable Postgres mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return c.DBHost != ""
}
