package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration wraps every error that should stop the process before any work starts.
var ErrConfiguration = errors.New("configuration error")

// Config holds sync configuration loaded from YAML, .env and the environment.
type Config struct {
	APIKeys []string `validate:"min=1,dive,required"`

	WeatherURL      string        `validate:"required,url"`
	ForecastURL     string        `validate:"required,url"`
	OneCallURL      string        `validate:"required,url"`
	AirQualityURL   string        `validate:"required,url"`
	ProviderMode    string        `validate:"oneof=split onecall"`
	Units           string        `validate:"oneof=metric imperial standard"`
	ProviderTimeout time.Duration `validate:"gt=0"`

	RequestsPerWindow int           `validate:"gte=1"`
	RateWindow        time.Duration `validate:"gt=0"`
	SafetyMargin      int           `validate:"gte=0"`
	PacingRPS         float64       `validate:"gte=0"`

	BreakerEnabled          bool
	BreakerFailureThreshold int `validate:"gte=1"`
	BreakerSuccessThreshold int `validate:"gte=1"`
	BreakerTimeout          time.Duration

	RunTimeout time.Duration `validate:"gt=0"`

	DistrictSource string `validate:"oneof=file postgres"`
	DistrictFile   string `validate:"required_if=DistrictSource file"`
	DistrictQuery  string
	NameAliases    map[string]string

	SinkBackend           string `validate:"oneof=memory postgres redis memcached"`
	SinkTable             string
	EnsureSchema          bool
	RedisAddr             string `validate:"required_if=SinkBackend redis"`
	RedisDB               int    `validate:"gte=0"`
	RedisPassword         string
	RedisKeyPrefix        string
	MemcachedAddrs        string `validate:"required_if=SinkBackend memcached"`
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	DatabaseURL string

	PushgatewayURL  string `validate:"omitempty,url"`
	MetricsJob      string
	MetricsTextfile string
}

type fileConfig struct {
	Provider struct {
		WeatherURL    string `yaml:"weather_url"`
		ForecastURL   string `yaml:"forecast_url"`
		OneCallURL    string `yaml:"onecall_url"`
		AirQualityURL string `yaml:"air_quality_url"`
		Mode          string `yaml:"mode"`
		Units         string `yaml:"units"`
		Timeout       string `yaml:"timeout"`
	} `yaml:"provider"`

	RateLimit struct {
		RequestsPerWindow int     `yaml:"requests_per_window"`
		Window            string  `yaml:"window"`
		SafetyMargin      *int    `yaml:"safety_margin"`
		PacingRPS         float64 `yaml:"pacing_rps"`
	} `yaml:"rate_limit"`

	CircuitBreaker struct {
		Enabled          *bool  `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Run struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"run"`

	Districts struct {
		Source      string            `yaml:"source"`
		File        string            `yaml:"file"`
		Query       string            `yaml:"query"`
		NameAliases map[string]string `yaml:"name_aliases"`
	} `yaml:"districts"`

	Sink struct {
		Backend      string `yaml:"backend"`
		Table        string `yaml:"table"`
		EnsureSchema bool   `yaml:"ensure_schema"`
		Redis        struct {
			Addr      string `yaml:"addr"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"sink"`

	Metrics struct {
		PushgatewayURL string `yaml:"pushgateway_url"`
		Job            string `yaml:"job"`
		Textfile       string `yaml:"textfile"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKeys []string `yaml:"weather_api_keys"`
	WeatherAPIKey  string   `yaml:"weather_api_key"`
	DatabaseURL    string   `yaml:"database_url"`
	RedisPassword  string   `yaml:"redis_password"`
}

// DefaultNameAliases maps registry names the provider does not resolve to a queryable city.
func DefaultNameAliases() map[string]string {
	return map[string]string{
		"Nicobars":                 "Port Blair,IN",
		"North and Middle Andaman": "Port Blair,IN",
		"South Andaman":            "Port Blair,IN",
	}
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first and never overrides set variables.
// API keys come from WEATHER_API_KEYS / WEATHER_API_KEY env or the secrets file. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom is Load rooted at dir instead of the working directory.
func LoadFrom(dir string) (*Config, error) {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("%w: load .env: %v", ErrConfiguration, err)
		}
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file not found: %s", ErrConfiguration, configPath)
		}
		return nil, fmt.Errorf("%w: read config file: %v", ErrConfiguration, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%w: parse config file: %v", ErrConfiguration, err)
	}

	sec, err := readSecrets(filepath.Join(dir, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.APIKeys = apiKeys(sec)
	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("%w: WEATHER_API_KEYS required (set env or config/secrets.yaml weather_api_keys)", ErrConfiguration)
	}

	cfg.WeatherURL = orDefault(fc.Provider.WeatherURL, "https://api.openweathermap.org/data/2.5/weather")
	cfg.ForecastURL = orDefault(fc.Provider.ForecastURL, "https://api.openweathermap.org/data/2.5/forecast")
	cfg.OneCallURL = orDefault(fc.Provider.OneCallURL, "https://api.openweathermap.org/data/3.0/onecall")
	cfg.AirQualityURL = orDefault(fc.Provider.AirQualityURL, "https://api.openweathermap.org/data/2.5/air_pollution")
	cfg.ProviderMode = strings.ToLower(orDefault(fc.Provider.Mode, "split"))
	cfg.Units = strings.ToLower(orDefault(fc.Provider.Units, "metric"))
	cfg.ProviderTimeout = parseDurationOrZero(fc.Provider.Timeout, 10*time.Second)

	cfg.RequestsPerWindow = fc.RateLimit.RequestsPerWindow
	if cfg.RequestsPerWindow <= 0 {
		cfg.RequestsPerWindow = 60
	}
	cfg.RateWindow = parseDuration(fc.RateLimit.Window, 60*time.Second)
	cfg.SafetyMargin = 2
	if fc.RateLimit.SafetyMargin != nil {
		cfg.SafetyMargin = *fc.RateLimit.SafetyMargin
	}
	cfg.PacingRPS = fc.RateLimit.PacingRPS

	cfg.BreakerEnabled = true
	if fc.CircuitBreaker.Enabled != nil {
		cfg.BreakerEnabled = *fc.CircuitBreaker.Enabled
	}
	cfg.BreakerFailureThreshold = fc.CircuitBreaker.FailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.CircuitBreaker.SuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 1
	}
	cfg.BreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.RunTimeout = parseDurationOrZero(fc.Run.Timeout, 30*time.Minute)

	cfg.DistrictSource = strings.ToLower(orDefault(fc.Districts.Source, "file"))
	cfg.DistrictFile = strings.TrimSpace(os.Getenv("DISTRICTS_FILE"))
	if cfg.DistrictFile == "" {
		cfg.DistrictFile = orDefault(fc.Districts.File, filepath.Join("config", "districts.yaml"))
	}
	if cfg.DistrictFile != "" && !filepath.IsAbs(cfg.DistrictFile) {
		cfg.DistrictFile = filepath.Join(dir, cfg.DistrictFile)
	}
	cfg.DistrictQuery = strings.TrimSpace(fc.Districts.Query)
	cfg.NameAliases = fc.Districts.NameAliases
	if cfg.NameAliases == nil {
		cfg.NameAliases = DefaultNameAliases()
	}

	cfg.SinkBackend = strings.TrimSpace(strings.ToLower(os.Getenv("SINK_BACKEND")))
	if cfg.SinkBackend == "" {
		cfg.SinkBackend = strings.TrimSpace(strings.ToLower(fc.Sink.Backend))
	}
	if cfg.SinkBackend == "" {
		cfg.SinkBackend = "memory"
	}
	cfg.SinkTable = orDefault(fc.Sink.Table, "weather")
	cfg.EnsureSchema = fc.Sink.EnsureSchema
	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = orDefault(fc.Sink.Redis.Addr, "localhost:6379")
	}
	cfg.RedisDB = fc.Sink.Redis.DB
	cfg.RedisKeyPrefix = orDefault(fc.Sink.Redis.KeyPrefix, "weather:")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.RedisPassword == "" {
		cfg.RedisPassword = sec.RedisPassword
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = orDefault(fc.Sink.Memcached.Addrs, "localhost:11211")
	}
	cfg.MemcachedTimeout = parseDuration(fc.Sink.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Sink.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = sec.DatabaseURL
	}

	cfg.PushgatewayURL = strings.TrimSpace(os.Getenv("PUSHGATEWAY_URL"))
	if cfg.PushgatewayURL == "" {
		cfg.PushgatewayURL = strings.TrimSpace(fc.Metrics.PushgatewayURL)
	}
	cfg.MetricsJob = orDefault(fc.Metrics.Job, "weather_sync")
	cfg.MetricsTextfile = strings.TrimSpace(fc.Metrics.Textfile)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("%w: read secrets file: %v", ErrConfiguration, err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("%w: parse secrets file: %v", ErrConfiguration, err)
	}
	return sec, nil
}

// apiKeys resolves the credential pool: WEATHER_API_KEYS, then WEATHER_API_KEY, then the secrets file.
func apiKeys(sec secretsFile) []string {
	if v := os.Getenv("WEATHER_API_KEYS"); strings.TrimSpace(v) != "" {
		return splitKeys(strings.Split(v, ","))
	}
	if v := strings.TrimSpace(os.Getenv("WEATHER_API_KEY")); v != "" {
		return []string{v}
	}
	if len(sec.WeatherAPIKeys) > 0 {
		return splitKeys(sec.WeatherAPIKeys)
	}
	return splitKeys([]string{sec.WeatherAPIKey})
}

func splitKeys(raw []string) []string {
	var keys []string
	for _, k := range raw {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (validation rejects them where they matter).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

var structValidator = validator.New()

// validate runs struct-tag validation, then the cross-field checks tags cannot express.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if cfg.SafetyMargin >= cfg.RequestsPerWindow {
		return fmt.Errorf("%w: rate_limit.safety_margin (%d) must be below requests_per_window (%d)",
			ErrConfiguration, cfg.SafetyMargin, cfg.RequestsPerWindow)
	}
	if (cfg.DistrictSource == "postgres" || cfg.SinkBackend == "postgres") && cfg.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL required for postgres districts or sink", ErrConfiguration)
	}
	if cfg.RunTimeout <= cfg.ProviderTimeout {
		return fmt.Errorf("%w: run.timeout (%s) must exceed provider.timeout (%s)",
			ErrConfiguration, cfg.RunTimeout, cfg.ProviderTimeout)
	}
	return nil
}
