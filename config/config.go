package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config groups every runtime setting. Load builds it once at startup; the
// rest of the code receives values through constructors, with Global kept for
// the cobra layer.
type Config struct {
	App      AppConfig
	Bucket   BucketConfig
	WhatsApp WhatsAppConfig
	Queue    QueueConfig
	Agent    AgentConfig
	Handler  HandlerConfig
}

type AppConfig struct {
	Debug    bool
	LogLevel string
}

// BucketConfig targets an S3-compatible object store. Endpoint is derived
// from the region when not set explicitly.
type BucketConfig struct {
	Region    string
	KeyID     string
	KeySecret string
	Name      string
	Endpoint  string
}

type WhatsAppConfig struct {
	APIBase string
	Token   string
}

type QueueConfig struct {
	Path          string
	PollBusy      time.Duration
	PollIdle      time.Duration
	ResponseDelay time.Duration
}

type AgentConfig struct {
	OpenAIKey     string
	OpenRouterKey string
	MistralKey    string
	GeminiKey     string
	Model         string
	PromptPath    string
}

type HandlerConfig struct {
	MaxContextLen  int
	StaleThreshold time.Duration
	DebugEnvelope  bool
}

// Global is set by Load for the cobra commands. Everything below cmd/ takes
// config by value.
var Global *Config

// Load reads .env when present, then the environment. It fails when any
// bucket credential is missing so a misconfigured worker never boots.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("[CONFIG] .env file loaded")
	}
	viper.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Debug:    getEnvBool("APP_DEBUG", false),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Bucket: BucketConfig{
			Region:    viper.GetString("BUCKET_REGION"),
			KeyID:     viper.GetString("BUCKET_KEY_ID"),
			KeySecret: viper.GetString("BUCKET_KEY_SECRET"),
			Name:      viper.GetString("BUCKET_NAME"),
			Endpoint:  viper.GetString("BUCKET_ENDPOINT"),
		},
		WhatsApp: WhatsAppConfig{
			APIBase: getEnv("WHATSAPP_API_BASE", "https://graph.facebook.com/v21.0"),
			Token:   viper.GetString("WHATSAPP_TOKEN"),
		},
		Queue: QueueConfig{
			Path:          getEnv("QUEUE_DB_PATH", "queue.db"),
			PollBusy:      getEnvSeconds("QUEUE_POLL_INTERVAL_BUSY", 0.2),
			PollIdle:      getEnvSeconds("QUEUE_POLL_INTERVAL_IDLE", 1.0),
			ResponseDelay: getEnvSeconds("QUEUE_RESPONSE_DELAY", 1.0),
		},
		Agent: AgentConfig{
			OpenAIKey:     viper.GetString("API_KEY_OPENAI"),
			OpenRouterKey: viper.GetString("API_KEY_OPENROUTER"),
			MistralKey:    viper.GetString("API_KEY_MISTRAL"),
			GeminiKey:     viper.GetString("API_KEY_GEMINI"),
			Model:         getEnv("AGENT_MODEL", "openai/gpt-4o-mini"),
			PromptPath:    viper.GetString("AGENT_PROMPT_PATH"),
		},
		Handler: HandlerConfig{
			MaxContextLen:  getEnvInt("HANDLER_MAX_CONTEXT_LEN", 20),
			StaleThreshold: getEnvSeconds("HANDLER_STALE_SECONDS", 48*3600),
			DebugEnvelope:  getEnvBool("HANDLER_DEBUG_ENVELOPE", false),
		},
	}

	if err := cfg.Bucket.validate(); err != nil {
		return nil, err
	}
	if cfg.Bucket.Endpoint == "" {
		cfg.Bucket.Endpoint = fmt.Sprintf("https://%s.digitaloceanspaces.com", cfg.Bucket.Region)
	}

	Global = cfg
	return cfg, nil
}

func (b BucketConfig) validate() error {
	missing := []string{}
	if b.Region == "" {
		missing = append(missing, "BUCKET_REGION")
	}
	if b.KeyID == "" {
		missing = append(missing, "BUCKET_KEY_ID")
	}
	if b.KeySecret == "" {
		missing = append(missing, "BUCKET_KEY_SECRET")
	}
	if b.Name == "" {
		missing = append(missing, "BUCKET_NAME")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := viper.GetString(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := viper.GetString(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logrus.Warnf("[CONFIG] invalid int for %s, using default %d", key, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := viper.GetString(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		logrus.Warnf("[CONFIG] invalid bool for %s, using default %v", key, fallback)
	}
	return fallback
}

func getEnvSeconds(key string, fallback float64) time.Duration {
	secs := fallback
	if v := viper.GetString(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			secs = f
		} else {
			logrus.Warnf("[CONFIG] invalid seconds for %s, using default %v", key, fallback)
		}
	}
	return time.Duration(secs * float64(time.Second))
}
