package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	RetentionDays     int
	RetentionSweepSec int
	SnapshotsEnabled  bool

	KafkaBrokers     []string
	KafkaClientID    string
	KafkaRetryMax    int
	KafkaWriteMS     int
	KafkaEventsTopic string
	KafkaGroupID     string

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisEventsChannel string

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	AIEnabled     bool
	AIMockMode    bool
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	AITimeoutMS   int
	AIRetryMax    int
	AIMaxTokens   int
	AIDebugRoutes bool

	APRSEnabled           bool
	APRSHost              string
	APRSPort              int
	APRSCallsign          string
	APRSPasscode          string
	APRSClientID          string
	APRSFilter            string
	APRSFilterLat         *float64
	APRSFilterLon         *float64
	APRSFilterRadiusKm    float64
	APRSMissionID         string
	APRSBackoffInitialSec int
	APRSBackoffMaxSec     int
	APRSStableSec         int

	ADSBEnabled   bool
	ADSBBaseURL   string
	ADSBTimeoutMS int
	ADSBPollSec   int
	ADSBRadiusNM  float64
	ADSBCenterLat *float64
	ADSBCenterLon *float64
	ADSBMissionID string

	WeatherEnabled   bool
	WeatherBaseURL   string
	WeatherTimeoutMS int
	WeatherPollSec   int
	WeatherLat       *float64
	WeatherLon       *float64
	WeatherMissionID string

	StatusPenalties map[string]int

	PluginRateRPS   float64
	PluginRateBurst int

	CORSAllowedOrigins []string

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := Default(serviceNameDefault, httpPortDefault)
	cfg.Env = envRaw
	cfg.ConfigPath = strings.TrimSpace(os.Getenv("CONFIG_PATH"))

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	if fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != ""); ok {
		problems = append(problems, fileProblems...)
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	} else {
		problems = append(problems, fileProblems...)
	}

	applyEnv(&cfg, os.Getenv, &problems)

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	problems = append(problems, validate(&cfg, httpPortDefault)...)
	return cfg, problems
}

// Default returns the configuration used when neither a file nor the
// environment overrides a value.
func Default(serviceName string, httpPort int) Config {
	return Config{
		ServiceName:           serviceName,
		HTTPPort:              httpPort,
		LogLevel:              "info",
		RequestTimeoutMS:      30000,
		RequestTimeout:        30 * time.Second,
		DBMaxConns:            10,
		DBMinConns:            1,
		DBConnMaxIdleSec:      300,
		DBConnMaxLifeSec:      1800,
		RetentionDays:         7,
		RetentionSweepSec:     3600,
		SnapshotsEnabled:      true,
		KafkaRetryMax:         5,
		KafkaWriteMS:          5000,
		KafkaEventsTopic:      "mission.events",
		RedisEventsChannel:    "mission.events",
		AsynqQueue:            "default",
		AsynqConcurrency:      2,
		InfluxTimeoutMS:       5000,
		OpenAIModel:           "gpt-4o-mini",
		AITimeoutMS:           30000,
		AIRetryMax:            1,
		AIMaxTokens:           600,
		APRSHost:              "noam.aprs2.net",
		APRSPort:              14580,
		APRSPasscode:          "-1",
		APRSClientID:          "sentinelai 1.0",
		APRSFilterRadiusKm:    50,
		APRSBackoffInitialSec: 5,
		APRSBackoffMaxSec:     300,
		APRSStableSec:         60,
		ADSBBaseURL:           "https://opensky-network.org/api/states/all",
		ADSBTimeoutMS:         10000,
		ADSBPollSec:           60,
		ADSBRadiusNM:          25,
		WeatherBaseURL:        "https://api.open-meteo.com/v1/forecast",
		WeatherTimeoutMS:      10000,
		WeatherPollSec:        300,
		PluginRateRPS:         5,
		PluginRateBurst:       20,
		OtelInsecure:          true,
		OtelSampleRatio:       1.0,
	}
}

func validate(cfg *Config, httpPortDefault int) []Problem {
	var problems []Problem
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if cfg.DBMaxConns <= 0 {
		problems = append(problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be >= 0"})
		cfg.DBMinConns = 1
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.DBConnMaxIdleSec <= 0 {
		problems = append(problems, Problem{Field: "DB_CONN_MAX_IDLE_SECONDS", Message: "DB_CONN_MAX_IDLE_SECONDS must be > 0"})
		cfg.DBConnMaxIdleSec = 300
	}
	if cfg.DBConnMaxLifeSec <= 0 {
		problems = append(problems, Problem{Field: "DB_CONN_MAX_LIFETIME_SECONDS", Message: "DB_CONN_MAX_LIFETIME_SECONDS must be > 0"})
		cfg.DBConnMaxLifeSec = 1800
	}
	if cfg.RetentionDays < 1 {
		problems = append(problems, Problem{Field: "RETENTION_DAYS", Message: "RETENTION_DAYS must be >= 1"})
		cfg.RetentionDays = 7
	}
	if cfg.RetentionSweepSec <= 0 {
		problems = append(problems, Problem{Field: "RETENTION_SWEEP_INTERVAL_SECONDS", Message: "RETENTION_SWEEP_INTERVAL_SECONDS must be > 0"})
		cfg.RetentionSweepSec = 3600
	}
	if cfg.KafkaRetryMax < 0 {
		problems = append(problems, Problem{Field: "KAFKA_RETRY_MAX", Message: "KAFKA_RETRY_MAX must be >= 0"})
		cfg.KafkaRetryMax = 5
	}
	if cfg.KafkaWriteMS <= 0 {
		problems = append(problems, Problem{Field: "KAFKA_WRITE_TIMEOUT_MS", Message: "KAFKA_WRITE_TIMEOUT_MS must be > 0"})
		cfg.KafkaWriteMS = 5000
	}
	if cfg.RedisDB < 0 {
		problems = append(problems, Problem{Field: "REDIS_DB", Message: "REDIS_DB must be >= 0"})
		cfg.RedisDB = 0
	}
	if cfg.AsynqRedisDB < 0 {
		problems = append(problems, Problem{Field: "ASYNQ_REDIS_DB", Message: "ASYNQ_REDIS_DB must be >= 0"})
		cfg.AsynqRedisDB = 0
	}
	if cfg.AsynqConcurrency <= 0 {
		problems = append(problems, Problem{Field: "ASYNQ_CONCURRENCY", Message: "ASYNQ_CONCURRENCY must be > 0"})
		cfg.AsynqConcurrency = 2
	}
	if cfg.InfluxTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "INFLUX_TIMEOUT_MS", Message: "INFLUX_TIMEOUT_MS must be > 0"})
		cfg.InfluxTimeoutMS = 5000
	}
	if cfg.AITimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "OPENAI_TIMEOUT_MS", Message: "OPENAI_TIMEOUT_MS must be > 0"})
		cfg.AITimeoutMS = 30000
	}
	if cfg.AIRetryMax < 0 {
		problems = append(problems, Problem{Field: "AI_RETRY_MAX", Message: "AI_RETRY_MAX must be >= 0"})
		cfg.AIRetryMax = 1
	}
	if cfg.AIMaxTokens <= 0 {
		problems = append(problems, Problem{Field: "AI_MAX_TOKENS", Message: "AI_MAX_TOKENS must be > 0"})
		cfg.AIMaxTokens = 600
	}
	if cfg.AIEnabled && !cfg.AIMockMode && cfg.OpenAIAPIKey == "" {
		problems = append(problems, Problem{Field: "OPENAI_API_KEY", Message: "OPENAI_API_KEY is required when AI_ENABLED is set"})
	}
	if cfg.APRSPort <= 0 || cfg.APRSPort > 65535 {
		problems = append(problems, Problem{Field: "APRS_PORT", Message: "APRS_PORT must be 1-65535"})
		cfg.APRSPort = 14580
	}
	if cfg.APRSEnabled && cfg.APRSCallsign == "" {
		problems = append(problems, Problem{Field: "APRS_CALLSIGN", Message: "APRS_CALLSIGN is required when APRS_ENABLED is set"})
		cfg.APRSEnabled = false
	}
	if cfg.APRSBackoffInitialSec <= 0 {
		problems = append(problems, Problem{Field: "APRS_BACKOFF_INITIAL_SECONDS", Message: "APRS_BACKOFF_INITIAL_SECONDS must be > 0"})
		cfg.APRSBackoffInitialSec = 5
	}
	if cfg.APRSBackoffMaxSec < cfg.APRSBackoffInitialSec {
		problems = append(problems, Problem{Field: "APRS_BACKOFF_MAX_SECONDS", Message: "APRS_BACKOFF_MAX_SECONDS must be >= APRS_BACKOFF_INITIAL_SECONDS"})
		cfg.APRSBackoffMaxSec = max(300, cfg.APRSBackoffInitialSec)
	}
	if cfg.APRSStableSec <= 0 {
		problems = append(problems, Problem{Field: "APRS_STABLE_SECONDS", Message: "APRS_STABLE_SECONDS must be > 0"})
		cfg.APRSStableSec = 60
	}
	if cfg.ADSBEnabled && (cfg.ADSBCenterLat == nil || cfg.ADSBCenterLon == nil) {
		problems = append(problems, Problem{Field: "ADSB_CENTER_LAT", Message: "ADSB_CENTER_LAT and ADSB_CENTER_LON are required when ADSB_ENABLED is set"})
		cfg.ADSBEnabled = false
	}
	if cfg.ADSBPollSec <= 0 {
		problems = append(problems, Problem{Field: "ADSB_POLL_INTERVAL_SECONDS", Message: "ADSB_POLL_INTERVAL_SECONDS must be > 0"})
		cfg.ADSBPollSec = 60
	}
	if cfg.ADSBTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "ADSB_TIMEOUT_MS", Message: "ADSB_TIMEOUT_MS must be > 0"})
		cfg.ADSBTimeoutMS = 10000
	}
	if cfg.ADSBRadiusNM <= 0 {
		problems = append(problems, Problem{Field: "ADSB_RADIUS_NM", Message: "ADSB_RADIUS_NM must be > 0"})
		cfg.ADSBRadiusNM = 25
	}
	if cfg.WeatherEnabled && (cfg.WeatherLat == nil || cfg.WeatherLon == nil) {
		problems = append(problems, Problem{Field: "WEATHER_LAT", Message: "WEATHER_LAT and WEATHER_LON are required when WEATHER_ENABLED is set"})
		cfg.WeatherEnabled = false
	}
	if cfg.WeatherPollSec <= 0 {
		problems = append(problems, Problem{Field: "WEATHER_POLL_INTERVAL_SECONDS", Message: "WEATHER_POLL_INTERVAL_SECONDS must be > 0"})
		cfg.WeatherPollSec = 300
	}
	if cfg.WeatherTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "WEATHER_TIMEOUT_MS", Message: "WEATHER_TIMEOUT_MS must be > 0"})
		cfg.WeatherTimeoutMS = 10000
	}
	for k, v := range cfg.StatusPenalties {
		if v < 0 {
			problems = append(problems, Problem{Field: "STATUS_PENALTIES", Message: "penalty for " + k + " must be >= 0"})
			delete(cfg.StatusPenalties, k)
		}
	}
	if cfg.PluginRateRPS <= 0 {
		problems = append(problems, Problem{Field: "PLUGIN_RATE_LIMIT_RPS", Message: "PLUGIN_RATE_LIMIT_RPS must be > 0"})
		cfg.PluginRateRPS = 5
	}
	if cfg.PluginRateBurst <= 0 {
		problems = append(problems, Problem{Field: "PLUGIN_RATE_LIMIT_BURST", Message: "PLUGIN_RATE_LIMIT_BURST must be > 0"})
		cfg.PluginRateBurst = 20
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}
	return problems
}

type kind int

const (
	kindString kind = iota
	kindInt
	kindBool
	kindFloat
	kindOptFloat
	kindCSV
	kindPenalties
)

type binding struct {
	key  string
	kind kind
	ptr  any
}

func bindings(cfg *Config) []binding {
	return []binding{
		{"SERVICE_NAME", kindString, &cfg.ServiceName},
		{"HTTP_PORT", kindInt, &cfg.HTTPPort},
		{"LOG_LEVEL", kindString, &cfg.LogLevel},
		{"REQUEST_TIMEOUT_MS", kindInt, &cfg.RequestTimeoutMS},
		{"DATABASE_URL", kindString, &cfg.DatabaseURL},
		{"DB_MAX_CONNS", kindInt, &cfg.DBMaxConns},
		{"DB_MIN_CONNS", kindInt, &cfg.DBMinConns},
		{"DB_CONN_MAX_IDLE_SECONDS", kindInt, &cfg.DBConnMaxIdleSec},
		{"DB_CONN_MAX_LIFETIME_SECONDS", kindInt, &cfg.DBConnMaxLifeSec},
		{"RETENTION_DAYS", kindInt, &cfg.RetentionDays},
		{"RETENTION_SWEEP_INTERVAL_SECONDS", kindInt, &cfg.RetentionSweepSec},
		{"ANALYSIS_SNAPSHOTS_ENABLED", kindBool, &cfg.SnapshotsEnabled},
		{"KAFKA_BROKERS", kindCSV, &cfg.KafkaBrokers},
		{"KAFKA_CLIENT_ID", kindString, &cfg.KafkaClientID},
		{"KAFKA_RETRY_MAX", kindInt, &cfg.KafkaRetryMax},
		{"KAFKA_WRITE_TIMEOUT_MS", kindInt, &cfg.KafkaWriteMS},
		{"KAFKA_EVENTS_TOPIC", kindString, &cfg.KafkaEventsTopic},
		{"KAFKA_CONSUMER_GROUP", kindString, &cfg.KafkaGroupID},
		{"REDIS_ADDR", kindString, &cfg.RedisAddr},
		{"REDIS_PASSWORD", kindString, &cfg.RedisPassword},
		{"REDIS_DB", kindInt, &cfg.RedisDB},
		{"REDIS_EVENTS_CHANNEL", kindString, &cfg.RedisEventsChannel},
		{"ASYNQ_REDIS_ADDR", kindString, &cfg.AsynqRedisAddr},
		{"ASYNQ_REDIS_PASSWORD", kindString, &cfg.AsynqRedisPass},
		{"ASYNQ_REDIS_DB", kindInt, &cfg.AsynqRedisDB},
		{"ASYNQ_QUEUE", kindString, &cfg.AsynqQueue},
		{"ASYNQ_CONCURRENCY", kindInt, &cfg.AsynqConcurrency},
		{"INFLUX_URL", kindString, &cfg.InfluxURL},
		{"INFLUX_TOKEN", kindString, &cfg.InfluxToken},
		{"INFLUX_ORG", kindString, &cfg.InfluxOrg},
		{"INFLUX_BUCKET", kindString, &cfg.InfluxBucket},
		{"INFLUX_TIMEOUT_MS", kindInt, &cfg.InfluxTimeoutMS},
		{"AI_ENABLED", kindBool, &cfg.AIEnabled},
		{"AI_MOCK_MODE", kindBool, &cfg.AIMockMode},
		{"OPENAI_API_KEY", kindString, &cfg.OpenAIAPIKey},
		{"OPENAI_MODEL", kindString, &cfg.OpenAIModel},
		{"OPENAI_BASE_URL", kindString, &cfg.OpenAIBaseURL},
		{"OPENAI_TIMEOUT_MS", kindInt, &cfg.AITimeoutMS},
		{"AI_RETRY_MAX", kindInt, &cfg.AIRetryMax},
		{"AI_MAX_TOKENS", kindInt, &cfg.AIMaxTokens},
		{"DEBUG_AI_ENDPOINTS", kindBool, &cfg.AIDebugRoutes},
		{"APRS_ENABLED", kindBool, &cfg.APRSEnabled},
		{"APRS_HOST", kindString, &cfg.APRSHost},
		{"APRS_PORT", kindInt, &cfg.APRSPort},
		{"APRS_CALLSIGN", kindString, &cfg.APRSCallsign},
		{"APRS_PASSCODE", kindString, &cfg.APRSPasscode},
		{"APRS_CLIENT_ID", kindString, &cfg.APRSClientID},
		{"APRS_FILTER", kindString, &cfg.APRSFilter},
		{"APRS_FILTER_LAT", kindOptFloat, &cfg.APRSFilterLat},
		{"APRS_FILTER_LON", kindOptFloat, &cfg.APRSFilterLon},
		{"APRS_FILTER_RADIUS_KM", kindFloat, &cfg.APRSFilterRadiusKm},
		{"APRS_MISSION_ID", kindString, &cfg.APRSMissionID},
		{"APRS_BACKOFF_INITIAL_SECONDS", kindInt, &cfg.APRSBackoffInitialSec},
		{"APRS_BACKOFF_MAX_SECONDS", kindInt, &cfg.APRSBackoffMaxSec},
		{"APRS_STABLE_SECONDS", kindInt, &cfg.APRSStableSec},
		{"ADSB_ENABLED", kindBool, &cfg.ADSBEnabled},
		{"ADSB_BASE_URL", kindString, &cfg.ADSBBaseURL},
		{"ADSB_TIMEOUT_MS", kindInt, &cfg.ADSBTimeoutMS},
		{"ADSB_POLL_INTERVAL_SECONDS", kindInt, &cfg.ADSBPollSec},
		{"ADSB_RADIUS_NM", kindFloat, &cfg.ADSBRadiusNM},
		{"ADSB_CENTER_LAT", kindOptFloat, &cfg.ADSBCenterLat},
		{"ADSB_CENTER_LON", kindOptFloat, &cfg.ADSBCenterLon},
		{"ADSB_MISSION_ID", kindString, &cfg.ADSBMissionID},
		{"WEATHER_ENABLED", kindBool, &cfg.WeatherEnabled},
		{"WEATHER_BASE_URL", kindString, &cfg.WeatherBaseURL},
		{"WEATHER_TIMEOUT_MS", kindInt, &cfg.WeatherTimeoutMS},
		{"WEATHER_POLL_INTERVAL_SECONDS", kindInt, &cfg.WeatherPollSec},
		{"WEATHER_LAT", kindOptFloat, &cfg.WeatherLat},
		{"WEATHER_LON", kindOptFloat, &cfg.WeatherLon},
		{"WEATHER_MISSION_ID", kindString, &cfg.WeatherMissionID},
		{"STATUS_PENALTIES", kindPenalties, &cfg.StatusPenalties},
		{"PLUGIN_RATE_LIMIT_RPS", kindFloat, &cfg.PluginRateRPS},
		{"PLUGIN_RATE_LIMIT_BURST", kindInt, &cfg.PluginRateBurst},
		{"CORS_ALLOWED_ORIGINS", kindCSV, &cfg.CORSAllowedOrigins},
		{"OTEL_ENABLED", kindBool, &cfg.OtelEnabled},
		{"OTEL_EXPORTER_OTLP_ENDPOINT", kindString, &cfg.OtelEndpoint},
		{"OTEL_EXPORTER_OTLP_INSECURE", kindBool, &cfg.OtelInsecure},
		{"OTEL_SAMPLE_RATIO", kindFloat, &cfg.OtelSampleRatio},
	}
}

// set stores v into the bound field and reports a problem message when v
// cannot be converted.
func (b binding) set(v any) string {
	switch b.kind {
	case kindString:
		s, ok := v.(string)
		if !ok {
			return b.key + " must be a string"
		}
		if s = strings.TrimSpace(s); s != "" {
			*b.ptr.(*string) = s
		}
	case kindInt:
		n, ok := asInt(v)
		if !ok {
			return b.key + " must be an integer"
		}
		*b.ptr.(*int) = n
	case kindBool:
		flag, ok := asAnyBool(v)
		if !ok {
			return b.key + " must be a boolean"
		}
		*b.ptr.(*bool) = flag
	case kindFloat:
		f, ok := asFloat(v)
		if !ok {
			return b.key + " must be a number"
		}
		*b.ptr.(*float64) = f
	case kindOptFloat:
		f, ok := asFloat(v)
		if !ok {
			return b.key + " must be a number"
		}
		*b.ptr.(**float64) = &f
	case kindCSV:
		switch t := v.(type) {
		case string:
			*b.ptr.(*[]string) = parseCSV(t)
		case []any:
			*b.ptr.(*[]string) = parseAnyCSV(t)
		default:
			return b.key + " must be a list"
		}
	case kindPenalties:
		penalties, ok := parsePenalties(v)
		if !ok {
			return b.key + " must be a map of event_type to integer"
		}
		*b.ptr.(*map[string]int) = penalties
	}
	return ""
}

func findRepoRoot() (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && !errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, nil, false
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid yaml: %v", err)}}, false
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
		}
	}
	return raw, nil, true
}

func applyEnv(cfg *Config, getenv func(string) string, problems *[]Problem) {
	if v := strings.TrimSpace(getenv("PORT")); v != "" && strings.TrimSpace(getenv("HTTP_PORT")) == "" {
		if p, err := strconv.Atoi(v); err != nil {
			*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		} else {
			cfg.HTTPPort = p
		}
	}
	for _, b := range bindings(cfg) {
		v := strings.TrimSpace(getenv(b.key))
		if v == "" {
			continue
		}
		if msg := b.set(v); msg != "" {
			*problems = append(*problems, Problem{Field: b.key, Message: msg})
		}
	}
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	byKey := make(map[string]binding)
	for _, b := range bindings(cfg) {
		byKey[b.key] = b
	}
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "ENV" {
			if s, ok := v.(string); ok {
				cfg.Env = strings.TrimSpace(s)
			}
			continue
		}
		b, ok := byKey[key]
		if !ok {
			continue
		}
		if msg := b.set(v); msg != "" {
			*problems = append(*problems, Problem{Field: key, Message: msg})
		}
	}
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y", "on":
		return true, true
	case "false", "0", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}

func asAnyBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		return asBool(t)
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// parsePenalties accepts "alert=15,radio_silence=10" or a decoded object.
func parsePenalties(v any) (map[string]int, bool) {
	out := make(map[string]int)
	switch t := v.(type) {
	case string:
		for _, pair := range parseCSV(t) {
			name, raw, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, false
			}
			n, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return nil, false
			}
			out[strings.ToLower(strings.TrimSpace(name))] = n
		}
	case map[string]any:
		for name, raw := range t {
			n, ok := asInt(raw)
			if !ok {
				return nil, false
			}
			out[strings.ToLower(strings.TrimSpace(name))] = n
		}
	default:
		return nil, false
	}
	return out, true
}
