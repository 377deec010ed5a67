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
				assert.Equal(t, "orchestrator_db", cfg.Database.Database)
				assert.Equal(t, "jobs_dispatch_exchange", cfg.RabbitMQ.Dispatch.Exchange)
				assert.Equal(t, "jobs_dispatch_queue", cfg.RabbitMQ.Dispatch.Queue)
				assert.Equal(t, "jobs_events_exchange", cfg.RabbitMQ.EventsExchange)
				assert.Equal(t, "orchestrator-api-service", cfg.App.Name)
				assert.Contains(t, cfg.Providers.Kinds, "dub")
				assert.Equal(t, AdapterDubbing, cfg.Providers.Kinds["dub"].Adapter)
			}
		})
	}
}

func TestLoad_KindDefaults(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	// The dub kind sets everything explicitly.
	dub := cfg.Providers.Kinds["dub"]
	assert.Equal(t, 30*time.Second, dub.RequestTimeout)
	assert.Equal(t, 5*time.Second, dub.PollInterval)
	assert.Equal(t, 15*time.Minute, dub.TimeoutCeiling)
	assert.Equal(t, 3, dub.MaxRetries)

	// The translate kind leaves tracking parameters to the defaults.
	tr := cfg.Providers.Kinds["translate"]
	assert.Equal(t, 30*time.Second, tr.RequestTimeout)
	assert.Equal(t, 5*time.Second, tr.PollInterval)
	assert.Equal(t, 10*time.Minute, tr.TimeoutCeiling)
	assert.Equal(t, 3, tr.MaxRetries)
}

func TestLoad_WorkerDefaults(t *testing.T) {
	cfg, err := Load("testdata/invalid_port.yaml")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Worker.SweepInterval)
	assert.Equal(t, 100, cfg.Worker.SweepBatchSize)
	assert.Equal(t, 500, cfg.Worker.ResumeBatchSize)
	assert.Equal(t, time.Minute, cfg.Worker.PendingStaleAfter)
}

func validTestConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "orchestrator_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Dispatch: DispatchConfig{
				Exchange:   "jobs_dispatch_exchange",
				Queue:      "jobs_dispatch_queue",
				RoutingKey: "jobs.dispatch",
			},
			EventsExchange: "jobs_events_exchange",
		},
		Worker: WorkerConfig{
			SweepInterval:  5 * time.Minute,
			SweepBatchSize: 100,
		},
		Providers: ProvidersConfig{
			Kinds: map[string]KindConfig{
				"dub": {
					Adapter: AdapterDubbing,
					BaseURL: "https://api.dubbing.example.com",
				},
			},
		},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
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
			name:      "empty dispatch exchange",
			mutate:    func(c *Config) { c.RabbitMQ.Dispatch.Exchange = "" },
			wantErr:   true,
			errString: "rabbitmq dispatch exchange is required",
		},
		{
			name:      "empty dispatch queue",
			mutate:    func(c *Config) { c.RabbitMQ.Dispatch.Queue = "" },
			wantErr:   true,
			errString: "rabbitmq dispatch queue is required",
		},
		{
			name:      "empty events exchange",
			mutate:    func(c *Config) { c.RabbitMQ.EventsExchange = "" },
			wantErr:   true,
			errString: "rabbitmq events exchange is required",
		},
		{
			name:      "no provider kinds",
			mutate:    func(c *Config) { c.Providers.Kinds = nil },
			wantErr:   true,
			errString: "at least one provider kind is required",
		},
		{
			name: "unknown adapter",
			mutate: func(c *Config) {
				c.Providers.Kinds["dub"] = KindConfig{Adapter: "subtitler", BaseURL: "https://x"}
			},
			wantErr:   true,
			errString: "unknown adapter",
		},
		{
			name: "missing base url",
			mutate: func(c *Config) {
				c.Providers.Kinds["dub"] = KindConfig{Adapter: AdapterDubbing}
			},
			wantErr:   true,
			errString: "requires a base_url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

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
	t.Run("valid config", func(t *testing.T) {
		err := validTestConfig().ValidateWorkerConfig()
		require.NoError(t, err)
	})

	t.Run("sweep interval required", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Worker.SweepInterval = 0

		err := cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sweep_interval")
	})

	t.Run("sweep batch size required", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Worker.SweepBatchSize = 0

		err := cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sweep_batch_size")
	})

	t.Run("worker config ignores server port", func(t *testing.T) {
		cfg := validTestConfig()
		cfg.Server.Port = 0

		err := cfg.ValidateWorkerConfig()
		require.NoError(t, err)
	})
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.NoError(t, err)

		err = cfg.ValidateWorkerConfig()
		require.NoError(t, err)
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestKindConfig_APIKey(t *testing.T) {
	t.Run("resolves from environment", func(t *testing.T) {
		t.Setenv("TEST_PROVIDER_KEY", "secret-key")

		kc := KindConfig{APIKeyEnv: "TEST_PROVIDER_KEY"}
		assert.Equal(t, "secret-key", kc.APIKey())
	})

	t.Run("empty when unset", func(t *testing.T) {
		kc := KindConfig{}
		assert.Equal(t, "", kc.APIKey())
	})
}

func TestPortConstants(t *testing.T) {
	t.Run("port constants are correct", func(t *testing.T) {
		assert.Equal(t, 1, MinPort)
		assert.Equal(t, 65535, MaxPort)
	})

	t.Run("invalid port range", func(t *testing.T) {
		invalidPorts := []int{0, -1, 65536, 70000}
		for _, port := range invalidPorts {
			valid := port >= MinPort && port <= MaxPort
			assert.False(t, valid, "port %d should be invalid", port)
		}
	})
}
