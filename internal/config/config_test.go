package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "storybook_db", cfg.Database.Database)
				assert.Equal(t, "books_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "book_stages", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "storybook-api-service", cfg.App.Name)
				assert.Equal(t, "storybook", cfg.Storage.Bucket)
			}
		})
	}
}

func TestLoad_PipelineDefaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.BaseDelay)
	assert.Equal(t, 14, cfg.Pipeline.SceneCount)
	assert.Equal(t, []int{0, 1, 7, 13}, cfg.Pipeline.KeyScenes)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.SceneDelay)
	assert.Equal(t, "pixar_3d", cfg.Pipeline.DefaultStyle)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_env")

	cfg, err := Load("testdata/worker_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Gemini.APIKey)
	assert.Equal(t, "whsec_env", cfg.Payment.WebhookSecret)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.BaseDelay, "explicit values are kept")
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "storybook_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "books_exchange",
			},
			Queue: QueueConfig{
				Name: "book_stages",
			},
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	load := func(t *testing.T) *Config {
		cfg, err := Load("testdata/worker_config.yaml")
		require.NoError(t, err)
		return cfg
	}

	t.Run("valid worker config", func(t *testing.T) {
		require.NoError(t, load(t).ValidateWorkerConfig())
	})

	t.Run("missing gemini key", func(t *testing.T) {
		cfg := load(t)
		cfg.Gemini.APIKey = ""
		err := cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "gemini api_key is required")
	})

	t.Run("key scene out of range", func(t *testing.T) {
		cfg := load(t)
		cfg.Pipeline.KeyScenes = []int{0, 14}
		err := cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "key scene 14 out of range")
	})

	t.Run("zero concurrency", func(t *testing.T) {
		cfg := load(t)
		cfg.Worker.Concurrency = 0
		err := cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "worker concurrency")
	})

	t.Run("missing redis", func(t *testing.T) {
		cfg := load(t)
		cfg.Redis.Host = ""
		err := cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis host is required")
	})

	t.Run("lock ttl within one heartbeat", func(t *testing.T) {
		cfg := load(t)
		cfg.Worker.LockTTL = cfg.Worker.HeartbeatInterval
		err := cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "lock_ttl")
	})

	t.Run("lock settings are loaded", func(t *testing.T) {
		cfg := load(t)
		assert.Equal(t, 90*time.Second, cfg.Worker.LockTTL)
		assert.Equal(t, 5*time.Second, cfg.Worker.BusyDelay)
	})
}

func TestConfig_PublicBaseURLRequired(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	tests := []struct {
		name    string
		baseURL string
		wantErr string
	}{
		{name: "cdn prefix", baseURL: "https://cdn.storybook.test/books"},
		{name: "missing", baseURL: "", wantErr: "public_base_url is required"},
		{name: "relative", baseURL: "/storybook", wantErr: "absolute http(s) URL"},
		{name: "other scheme", baseURL: "s3://storybook", wantErr: "absolute http(s) URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for file, validate := range map[string]func(*Config) error{
				"testdata/worker_config.yaml": (*Config).ValidateWorkerConfig,
				"testdata/valid_config.yaml":  (*Config).ValidateAPIConfig,
			} {
				cfg, err := Load(file)
				require.NoError(t, err)
				cfg.Storage.PublicBaseURL = tt.baseURL

				err = validate(cfg)
				if tt.wantErr == "" {
					assert.NoError(t, err, file)
					continue
				}
				require.Error(t, err, file)
				assert.Contains(t, err.Error(), tt.wantErr, file)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.Validate())
		require.NoError(t, cfg.ValidateAPIConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
