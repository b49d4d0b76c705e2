package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	TraceStdout  bool   `yaml:"trace_stdout"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, text
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Logging     LoggingConfig   `yaml:"logging"`
	Bot         BotConfig       `yaml:"bot"`
	STT         STTConfig       `yaml:"stt"`
	Storage     StorageConfig   `yaml:"storage"`
	LLM         LLMConfig       `yaml:"llm"`
	Art         ArtConfig       `yaml:"art"`
	Tracker     TrackerConfig   `yaml:"tracker"`
	Store       StoreConfig     `yaml:"store"`
	Cache       CacheConfig     `yaml:"cache"`
	Bus         BusConfig       `yaml:"bus"`
}

type BotConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Token             string   `yaml:"token"`
	AllowedUsers      []string `yaml:"allowed_users"`
	MaxConcurrentJobs int      `yaml:"max_concurrent_jobs"`
	JobTimeoutMS      int      `yaml:"job_timeout_ms"`
}

type STTConfig struct {
	Mode           string `yaml:"mode"` // mock, yandex
	SubmitURL      string `yaml:"submit_url"`
	PollURL        string `yaml:"poll_url"`
	Credential     string `yaml:"credential"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	MaxAttempts    int    `yaml:"max_attempts"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`
	HTTPTimeoutMS  int    `yaml:"http_timeout_ms"`
	JobTimeoutMS   int    `yaml:"job_timeout_ms"`
}

type StorageConfig struct {
	Mode            string `yaml:"mode"` // mock, s3
	Endpoint        string `yaml:"endpoint"`
	Secure          bool   `yaml:"secure"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Folder          string `yaml:"folder"`
}

type LLMConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Mode        string            `yaml:"mode"` // mock, yandex, openai, gemini, exec
	Endpoint    string            `yaml:"endpoint"`
	Command     string            `yaml:"command"`
	FolderID    string            `yaml:"folder_id"`
	Credential  string            `yaml:"credential"`
	Models      map[string]string `yaml:"models"`
	Role        string            `yaml:"role"`
	MaxTokens   int               `yaml:"max_tokens"`
	Temperature float64           `yaml:"temperature"`
}

type ArtConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Mode               string `yaml:"mode"` // mock, yandex
	Endpoint           string `yaml:"endpoint"`
	OperationsEndpoint string `yaml:"operations_endpoint"`
	FolderID           string `yaml:"folder_id"`
	Credential         string `yaml:"credential"`
	Model              string `yaml:"model"`
	WidthRatio         int    `yaml:"width_ratio"`
	HeightRatio        int    `yaml:"height_ratio"`
	MaxAttempts        int    `yaml:"max_attempts"`
	PollIntervalMS     int    `yaml:"poll_interval_ms"`
}

type TrackerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Endpoint   string `yaml:"endpoint"`
	OrgHeader  string `yaml:"org_header"`
	OrgID      string `yaml:"org_id"`
	OAuthToken string `yaml:"oauth_token"`
}

type StoreConfig struct {
	Driver        string `yaml:"driver"` // sqlite, mysql
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type CacheConfig struct {
	Mode       string `yaml:"mode"` // none, memory, redis
	Addr       string `yaml:"addr"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "assistant-bot",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			OTLPInsecure: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Bot: BotConfig{
			Enabled:           false,
			Token:             "${TG_TOKEN}",
			MaxConcurrentJobs: 4,
			JobTimeoutMS:      180000,
		},
		STT: STTConfig{
			Mode:           "mock",
			SubmitURL:      "https://stt.api.cloud.yandex.net/stt/v3/recognizeFileAsync",
			PollURL:        "https://stt.api.cloud.yandex.net/stt/v3/getRecognition",
			Credential:     "${RECOGNIZE_TOKEN}",
			Model:          "general:rc",
			Language:       "ru-RU",
			MaxAttempts:    50,
			PollIntervalMS: 2000,
			HTTPTimeoutMS:  30000,
			JobTimeoutMS:   150000,
		},
		Storage: StorageConfig{
			Mode:            "mock",
			Endpoint:        "storage.yandexcloud.net",
			Secure:          true,
			Region:          "ru-central1",
			AccessKeyID:     "${S3KEY_ID}",
			SecretAccessKey: "${S3KEY}",
			Bucket:          "${BUCKET_NAME}",
			Folder:          "${BUCKET_FOLDER}",
		},
		LLM: LLMConfig{
			Enabled:     false,
			Mode:        "mock",
			Endpoint:    "https://llm.api.cloud.yandex.net/foundationModels/v1/completion",
			FolderID:    "${FOLDER_ID}",
			Credential:  "${ART_TOKEN}",
			Models:      map[string]string{"y": "yandexgpt", "q": "yandexgpt"},
			Role:        "system",
			MaxTokens:   2000,
			Temperature: 0.3,
		},
		Art: ArtConfig{
			Enabled:            false,
			Mode:               "mock",
			Endpoint:           "https://llm.api.cloud.yandex.net/foundationModels/v1/imageGenerationAsync",
			OperationsEndpoint: "https://llm.api.cloud.yandex.net/operations",
			FolderID:           "${FOLDER_ID}",
			Credential:         "${ART_TOKEN}",
			Model:              "yandex-art",
			WidthRatio:         1,
			HeightRatio:        2,
			MaxAttempts:        60,
			PollIntervalMS:     2000,
		},
		Tracker: TrackerConfig{
			Enabled:    false,
			Endpoint:   "https://api.tracker.yandex.net/v2",
			OrgHeader:  "${HEADER}",
			OrgID:      "${ORGID}",
			OAuthToken: "${OAUTH_TOKEN}",
		},
		Store: StoreConfig{
			Driver:        "sqlite",
			Path:          "./data/assistant.db",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
		Cache: CacheConfig{
			Mode:       "memory",
			Addr:       "localhost:6379",
			TTLSeconds: 86400,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Host:           "127.0.0.1",
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	resolveSecrets(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "ASSISTANT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "ASSISTANT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "ASSISTANT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "ASSISTANT_HTTP_PORT")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "ASSISTANT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "ASSISTANT_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "ASSISTANT_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Logging.Level, "ASSISTANT_LOG_LEVEL")
	overrideString(&cfg.Logging.Format, "ASSISTANT_LOG_FORMAT")
	overrideString(&cfg.Logging.File, "ASSISTANT_LOG_FILE")
	overrideBool(&cfg.Bot.Enabled, "ASSISTANT_BOT_ENABLED")
	overrideString(&cfg.Bot.Token, "ASSISTANT_BOT_TOKEN")
	overrideStringSlice(&cfg.Bot.AllowedUsers, "ASSISTANT_BOT_ALLOWED_USERS")
	overrideStringSlice(&cfg.Bot.AllowedUsers, "INCLUDED_TG_LOGINS")
	overrideInt(&cfg.Bot.MaxConcurrentJobs, "ASSISTANT_BOT_MAX_CONCURRENT_JOBS")
	overrideInt(&cfg.Bot.JobTimeoutMS, "ASSISTANT_BOT_JOB_TIMEOUT_MS")
	overrideString(&cfg.STT.Mode, "ASSISTANT_STT_MODE")
	overrideString(&cfg.STT.SubmitURL, "ASSISTANT_STT_SUBMIT_URL")
	overrideString(&cfg.STT.PollURL, "ASSISTANT_STT_POLL_URL")
	overrideString(&cfg.STT.Credential, "ASSISTANT_STT_CREDENTIAL")
	overrideString(&cfg.STT.Model, "ASSISTANT_STT_MODEL")
	overrideString(&cfg.STT.Language, "ASSISTANT_STT_LANGUAGE")
	overrideInt(&cfg.STT.MaxAttempts, "ASSISTANT_STT_MAX_ATTEMPTS")
	overrideInt(&cfg.STT.PollIntervalMS, "ASSISTANT_STT_POLL_INTERVAL_MS")
	overrideInt(&cfg.STT.HTTPTimeoutMS, "ASSISTANT_STT_HTTP_TIMEOUT_MS")
	overrideInt(&cfg.STT.JobTimeoutMS, "ASSISTANT_STT_JOB_TIMEOUT_MS")
	overrideString(&cfg.Storage.Mode, "ASSISTANT_STORAGE_MODE")
	overrideString(&cfg.Storage.Endpoint, "ASSISTANT_STORAGE_ENDPOINT")
	overrideBool(&cfg.Storage.Secure, "ASSISTANT_STORAGE_SECURE")
	overrideString(&cfg.Storage.Region, "ASSISTANT_STORAGE_REGION")
	overrideString(&cfg.Storage.AccessKeyID, "ASSISTANT_STORAGE_ACCESS_KEY_ID")
	overrideString(&cfg.Storage.SecretAccessKey, "ASSISTANT_STORAGE_SECRET_ACCESS_KEY")
	overrideString(&cfg.Storage.Bucket, "ASSISTANT_STORAGE_BUCKET")
	overrideString(&cfg.Storage.Folder, "ASSISTANT_STORAGE_FOLDER")
	overrideBool(&cfg.LLM.Enabled, "ASSISTANT_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "ASSISTANT_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "ASSISTANT_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "ASSISTANT_LLM_COMMAND")
	overrideString(&cfg.LLM.FolderID, "ASSISTANT_LLM_FOLDER_ID")
	overrideString(&cfg.LLM.Credential, "ASSISTANT_LLM_CREDENTIAL")
	overrideString(&cfg.LLM.Role, "ASSISTANT_LLM_ROLE")
	overrideInt(&cfg.LLM.MaxTokens, "ASSISTANT_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "ASSISTANT_LLM_TEMPERATURE")
	overrideBool(&cfg.Art.Enabled, "ASSISTANT_ART_ENABLED")
	overrideString(&cfg.Art.Mode, "ASSISTANT_ART_MODE")
	overrideString(&cfg.Art.Endpoint, "ASSISTANT_ART_ENDPOINT")
	overrideString(&cfg.Art.OperationsEndpoint, "ASSISTANT_ART_OPERATIONS_ENDPOINT")
	overrideString(&cfg.Art.FolderID, "ASSISTANT_ART_FOLDER_ID")
	overrideString(&cfg.Art.Credential, "ASSISTANT_ART_CREDENTIAL")
	overrideInt(&cfg.Art.MaxAttempts, "ASSISTANT_ART_MAX_ATTEMPTS")
	overrideInt(&cfg.Art.PollIntervalMS, "ASSISTANT_ART_POLL_INTERVAL_MS")
	overrideBool(&cfg.Tracker.Enabled, "ASSISTANT_TRACKER_ENABLED")
	overrideString(&cfg.Tracker.Endpoint, "ASSISTANT_TRACKER_ENDPOINT")
	overrideString(&cfg.Tracker.OrgHeader, "ASSISTANT_TRACKER_ORG_HEADER")
	overrideString(&cfg.Tracker.OrgID, "ASSISTANT_TRACKER_ORG_ID")
	overrideString(&cfg.Tracker.OAuthToken, "ASSISTANT_TRACKER_OAUTH_TOKEN")
	overrideString(&cfg.Store.Driver, "ASSISTANT_STORE_DRIVER")
	overrideString(&cfg.Store.Path, "ASSISTANT_STORE_PATH")
	overrideString(&cfg.Store.DSN, "ASSISTANT_STORE_DSN")
	overrideInt(&cfg.Store.RetentionDays, "ASSISTANT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxJobs, "ASSISTANT_STORE_MAX_JOBS")
	overrideBool(&cfg.Store.VacuumOnStart, "ASSISTANT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Cache.Mode, "ASSISTANT_CACHE_MODE")
	overrideString(&cfg.Cache.Addr, "ASSISTANT_CACHE_ADDR")
	overrideString(&cfg.Cache.Username, "ASSISTANT_CACHE_USERNAME")
	overrideString(&cfg.Cache.Password, "ASSISTANT_CACHE_PASSWORD")
	overrideInt(&cfg.Cache.DB, "ASSISTANT_CACHE_DB")
	overrideInt(&cfg.Cache.TTLSeconds, "ASSISTANT_CACHE_TTL_SECONDS")
	overrideBool(&cfg.Bus.Enabled, "ASSISTANT_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "ASSISTANT_BUS_EMBEDDED")
	overrideString(&cfg.Bus.Host, "ASSISTANT_BUS_HOST")
	overrideInt(&cfg.Bus.Port, "ASSISTANT_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "ASSISTANT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "ASSISTANT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "ASSISTANT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "ASSISTANT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "ASSISTANT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "ASSISTANT_BUS_CONNECT_TIMEOUT_MS")
}

// resolveSecrets expands "${VAR}" references in credential fields.
func resolveSecrets(cfg *Config) {
	for _, target := range []*string{
		&cfg.Bot.Token,
		&cfg.STT.Credential,
		&cfg.Storage.AccessKeyID,
		&cfg.Storage.SecretAccessKey,
		&cfg.Storage.Bucket,
		&cfg.Storage.Folder,
		&cfg.LLM.FolderID,
		&cfg.LLM.Credential,
		&cfg.Art.FolderID,
		&cfg.Art.Credential,
		&cfg.Tracker.OrgHeader,
		&cfg.Tracker.OrgID,
		&cfg.Tracker.OAuthToken,
		&cfg.Store.DSN,
		&cfg.Cache.Password,
		&cfg.Bus.Password,
		&cfg.Bus.Token,
	} {
		*target = resolveEnvRef(*target)
	}
}

// resolveEnvRef replaces a "${VAR_NAME}" value with the variable's content.
// Unset variables resolve to the empty string.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		return os.Getenv(val[2 : len(val)-1])
	}
	return val
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		return errors.New("logging.format must be one of json|text")
	}
	if cfg.Bot.Enabled {
		if cfg.Bot.Token == "" {
			return errors.New("bot.token must be set when the bot is enabled")
		}
		if cfg.Bot.MaxConcurrentJobs <= 0 {
			return errors.New("bot.max_concurrent_jobs must be >= 1")
		}
	}
	switch cfg.STT.Mode {
	case "mock":
	case "yandex":
		if cfg.STT.SubmitURL == "" || cfg.STT.PollURL == "" {
			return errors.New("stt.submit_url and stt.poll_url must be set when mode=yandex")
		}
		if cfg.STT.Credential == "" {
			return errors.New("stt.credential must be set when mode=yandex")
		}
	default:
		return errors.New("stt.mode must be one of mock|yandex")
	}
	if cfg.STT.MaxAttempts <= 0 {
		return errors.New("stt.max_attempts must be >= 1")
	}
	if cfg.STT.PollIntervalMS < 0 {
		return errors.New("stt.poll_interval_ms must be >= 0")
	}
	switch cfg.Storage.Mode {
	case "mock":
	case "s3":
		if cfg.Storage.Endpoint == "" {
			return errors.New("storage.endpoint must be set when mode=s3")
		}
		if cfg.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set when mode=s3")
		}
	default:
		return errors.New("storage.mode must be one of mock|s3")
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock":
		case "yandex", "openai":
			if cfg.LLM.Endpoint == "" {
				return fmt.Errorf("llm.endpoint must be set when mode=%s", cfg.LLM.Mode)
			}
		case "gemini":
			if cfg.LLM.Credential == "" {
				return errors.New("llm.credential must be set when mode=gemini")
			}
		case "exec":
			if cfg.LLM.Command == "" {
				return errors.New("llm.command must be set when mode=exec")
			}
		default:
			return errors.New("llm.mode must be one of mock|yandex|openai|gemini|exec")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.Art.Enabled {
		switch cfg.Art.Mode {
		case "mock":
		case "yandex":
			if cfg.Art.Endpoint == "" || cfg.Art.OperationsEndpoint == "" {
				return errors.New("art.endpoint and art.operations_endpoint must be set when mode=yandex")
			}
			if cfg.Art.FolderID == "" {
				return errors.New("art.folder_id must be set when mode=yandex")
			}
		default:
			return errors.New("art.mode must be one of mock|yandex")
		}
		if cfg.Art.MaxAttempts <= 0 {
			return errors.New("art.max_attempts must be >= 1")
		}
	}
	if cfg.Tracker.Enabled {
		if cfg.Tracker.Endpoint == "" {
			return errors.New("tracker.endpoint must not be empty")
		}
		if cfg.Tracker.OrgHeader == "" || cfg.Tracker.OrgID == "" {
			return errors.New("tracker.org_header and tracker.org_id must be set when tracker is enabled")
		}
	}
	switch cfg.Store.Driver {
	case "sqlite":
		if cfg.Store.Path == "" {
			return errors.New("store.path must not be empty for sqlite")
		}
	case "mysql":
		if cfg.Store.DSN == "" {
			return errors.New("store.dsn must not be empty for mysql")
		}
	default:
		return errors.New("store.driver must be one of sqlite|mysql")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	switch cfg.Cache.Mode {
	case "none", "memory":
	case "redis":
		if cfg.Cache.Addr == "" {
			return errors.New("cache.addr must be set when mode=redis")
		}
	default:
		return errors.New("cache.mode must be one of none|memory|redis")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}
