package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"hirecall/pkg/validation"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ReplayBacklog   int           `yaml:"replay_backlog"`
	} `yaml:"server"`

	Client struct {
		APIURL       string        `yaml:"api_url"`
		WSURL        string        `yaml:"ws_url"`
		Token        string        `yaml:"token"`
		UserID       string        `yaml:"user_id"`
		DisplayName  string        `yaml:"display_name"`
		HTTPTimeout  time.Duration `yaml:"http_timeout"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		PingInterval time.Duration `yaml:"ping_interval"`
		PongTimeout  time.Duration `yaml:"pong_timeout"`
		AudioFile    string        `yaml:"audio_file"`
		VideoFile    string        `yaml:"video_file"`
		RecordDir    string        `yaml:"record_dir"`
	} `yaml:"client"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Call struct {
		NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
		Reconnect          struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
			Multiplier   float64       `yaml:"multiplier"`
		} `yaml:"reconnect"`
	} `yaml:"call"`

	Transcription struct {
		Enabled              bool          `yaml:"enabled"`
		EngineURL            string        `yaml:"engine_url"`
		Language             string        `yaml:"language"`
		RestartDelay         time.Duration `yaml:"restart_delay"`
		NoSpeechRestartDelay time.Duration `yaml:"no_speech_restart_delay"`
		RetryDelay           time.Duration `yaml:"retry_delay"`
		InterimClearDelay    time.Duration `yaml:"interim_clear_delay"`
		MaxRestartsOutgoing  int           `yaml:"max_restarts_outgoing"`
		MaxRestartsIncoming  int           `yaml:"max_restarts_incoming"`
	} `yaml:"transcription"`

	History struct {
		DefaultLimit int           `yaml:"default_limit"`
		CacheTTL     time.Duration `yaml:"cache_ttl"`
	} `yaml:"history"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool          `yaml:"enabled"`
		Address  string        `yaml:"address"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		PoolSize int           `yaml:"pool_size"`
		CallTTL  time.Duration `yaml:"call_ttl"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret       string        `yaml:"jwt_secret"`
		AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if c.Server.PingInterval <= 0 {
		return fmt.Errorf("server.ping_interval must be > 0")
	}
	if c.Server.PongTimeout <= c.Server.PingInterval {
		return fmt.Errorf("server.pong_timeout must be > server.ping_interval")
	}
	if c.Server.ReplayBacklog < 0 {
		return fmt.Errorf("server.replay_backlog must be >= 0")
	}

	// Client
	if c.Client.HTTPTimeout <= 0 {
		return fmt.Errorf("client.http_timeout must be > 0")
	}
	if c.Client.DialTimeout <= 0 {
		return fmt.Errorf("client.dial_timeout must be > 0")
	}
	if c.Client.PingInterval <= 0 {
		return fmt.Errorf("client.ping_interval must be > 0")
	}
	if c.Client.PongTimeout <= c.Client.PingInterval {
		return fmt.Errorf("client.pong_timeout must be > client.ping_interval")
	}
	if c.Client.APIURL != "" {
		if err := validation.ValidateEndpoint(c.Client.APIURL, "http", "https"); err != nil {
			return fmt.Errorf("client.api_url: %w", err)
		}
	}
	if c.Client.WSURL != "" {
		if err := validation.ValidateEndpoint(c.Client.WSURL, "ws", "wss"); err != nil {
			return fmt.Errorf("client.ws_url: %w", err)
		}
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}

	// Call
	if c.Call.NegotiationTimeout <= 0 {
		return fmt.Errorf("call.negotiation_timeout must be > 0")
	}
	if c.Call.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("call.reconnect.max_attempts must be >= 0")
	}
	if c.Call.Reconnect.MaxAttempts > 0 {
		if c.Call.Reconnect.InitialDelay <= 0 {
			return fmt.Errorf("call.reconnect.initial_delay must be > 0")
		}
		if c.Call.Reconnect.MaxDelay < c.Call.Reconnect.InitialDelay {
			return fmt.Errorf("call.reconnect.max_delay must be >= initial_delay")
		}
		if c.Call.Reconnect.Multiplier < 1 {
			return fmt.Errorf("call.reconnect.multiplier must be >= 1")
		}
	}

	// Transcription
	if c.Transcription.RestartDelay <= 0 {
		return fmt.Errorf("transcription.restart_delay must be > 0")
	}
	if c.Transcription.NoSpeechRestartDelay <= 0 {
		return fmt.Errorf("transcription.no_speech_restart_delay must be > 0")
	}
	if c.Transcription.RetryDelay <= 0 {
		return fmt.Errorf("transcription.retry_delay must be > 0")
	}
	if c.Transcription.InterimClearDelay < 0 {
		return fmt.Errorf("transcription.interim_clear_delay must be >= 0")
	}
	if c.Transcription.MaxRestartsOutgoing < 0 || c.Transcription.MaxRestartsIncoming < 0 {
		return fmt.Errorf("transcription max restarts must be >= 0")
	}
	if c.Transcription.Enabled {
		if err := validation.ValidateEndpoint(c.Transcription.EngineURL, "ws", "wss"); err != nil {
			return fmt.Errorf("transcription.engine_url: %w", err)
		}
	}

	// History
	if c.History.DefaultLimit <= 0 || c.History.DefaultLimit > 100 {
		return fmt.Errorf("history.default_limit must be in [1,100]")
	}
	if c.History.CacheTTL < 0 {
		return fmt.Errorf("history.cache_ttl must be >= 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in [0,1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.PingInterval = 30 * time.Second
	cfg.Server.PongTimeout = 60 * time.Second
	cfg.Server.ReplayBacklog = 64

	cfg.Client.APIURL = "http://localhost:8080"
	cfg.Client.WSURL = "ws://localhost:8080"
	cfg.Client.HTTPTimeout = 10 * time.Second
	cfg.Client.DialTimeout = 10 * time.Second
	cfg.Client.PingInterval = 30 * time.Second
	cfg.Client.PongTimeout = 60 * time.Second

	// One STUN server, no TURN relay.
	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}

	cfg.Call.NegotiationTimeout = 30 * time.Second
	cfg.Call.Reconnect.MaxAttempts = 5
	cfg.Call.Reconnect.InitialDelay = 500 * time.Millisecond
	cfg.Call.Reconnect.MaxDelay = 8 * time.Second
	cfg.Call.Reconnect.Multiplier = 2.0

	cfg.Transcription.Enabled = false
	cfg.Transcription.EngineURL = "ws://localhost:9000/v1/listen"
	cfg.Transcription.Language = "en-US"
	cfg.Transcription.RestartDelay = 2 * time.Second
	cfg.Transcription.NoSpeechRestartDelay = time.Second
	cfg.Transcription.RetryDelay = 5 * time.Second
	cfg.Transcription.InterimClearDelay = time.Second
	cfg.Transcription.MaxRestartsOutgoing = 5
	cfg.Transcription.MaxRestartsIncoming = 2

	cfg.History.DefaultLimit = 50
	cfg.History.CacheTTL = 30 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.CallTTL = 30 * 24 * time.Hour

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 12 * time.Hour
	cfg.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

// MaxRestarts returns the transcription restart bound for a call direction.
func (c *Config) MaxRestarts(outgoing bool) int {
	if outgoing {
		return c.Transcription.MaxRestartsOutgoing
	}
	return c.Transcription.MaxRestartsIncoming
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("HIRECALL_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if u := os.Getenv("HIRECALL_API_URL"); u != "" {
		c.Client.APIURL = u
	}
	if u := os.Getenv("HIRECALL_WS_URL"); u != "" {
		c.Client.WSURL = u
	}
	if token := os.Getenv("HIRECALL_TOKEN"); token != "" {
		c.Client.Token = token
	}
	if id := os.Getenv("HIRECALL_USER_ID"); id != "" {
		c.Client.UserID = id
	}
	if name := os.Getenv("HIRECALL_DISPLAY_NAME"); name != "" {
		c.Client.DisplayName = name
	}
	if u := os.Getenv("HIRECALL_STT_URL"); u != "" {
		c.Transcription.EngineURL = u
		c.Transcription.Enabled = true
	}
	if v := os.Getenv("HIRECALL_NEGOTIATION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Call.NegotiationTimeout = d
		}
	}
	if v := os.Getenv("HIRECALL_REDIS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Redis.Enabled = enabled
		}
	}
	if addr := os.Getenv("HIRECALL_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if level := os.Getenv("HIRECALL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("HIRECALL_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
}
