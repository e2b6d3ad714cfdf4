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
			t.Setenv("CLIMSOFT_TEST_DB_PASSWORD", "s3cret")

			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "postgres", cfg.Database.Driver)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "s3cret", cfg.Database.Password, "environment references are expanded")
			assert.True(t, cfg.RabbitMQ.Enabled)
			assert.Equal(t, "climsoft.jobs", cfg.RabbitMQ.Exchange.Name)
			assert.Equal(t, 5, cfg.RabbitMQ.Consumer.PrefetchCount)
			assert.Equal(t, "change-me", cfg.Auth.JWTSecret)
			assert.Equal(t, "climsoft-jobs", cfg.App.Name)

			assert.Equal(t, time.Minute, cfg.Worker.PollInterval)
			assert.Equal(t, 5*time.Minute, cfg.Worker.LeaseDuration)
			assert.Equal(t, []string{"connector.import"}, cfg.Worker.ForwardJobNames)

			require.Len(t, cfg.Schedules, 1)
			s := cfg.Schedules[0]
			assert.Equal(t, "*/15 * * * *", s.Cron)
			assert.Equal(t, 5, s.MaxAttempts)
			assert.Equal(t, 7, s.Payload["connectorId"])
			assert.Equal(t, []any{"KE001", "KE002"}, s.Payload["stations"])
		})
	}
}

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "climsoft",
		},
		RabbitMQ: RabbitMQConfig{
			Enabled:  true,
			Host:     "localhost",
			Port:     5672,
			Exchange: ExchangeConfig{Name: "climsoft.jobs"},
			Queue:    QueueConfig{Name: "climsoft.jobs.triggers"},
		},
		Worker: WorkerConfig{
			LeaseDuration:     5 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
			CleanupCron:       "0 3 * * *",
		},
		Schedules: []ScheduleConfig{
			{Name: "connector.import", Cron: "@hourly"},
		},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "unsupported driver",
			mutate:    func(c *Config) { c.Database.Driver = "mysql" },
			errString: "unsupported database driver",
		},
		{
			name: "sqlite needs only a path",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: "sqlite", Path: "jobs.db"}
			},
		},
		{
			name:      "sqlite without path",
			mutate:    func(c *Config) { c.Database = DatabaseConfig{Driver: "sqlite"} },
			errString: "database path is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			errString: "rabbitmq queue name is required",
		},
		{
			name:   "disabled rabbitmq is not checked",
			mutate: func(c *Config) { c.RabbitMQ = RabbitMQConfig{} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateWorkerConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:   "zero values fall back to defaults",
			mutate: func(c *Config) { c.Worker = WorkerConfig{} },
		},
		{
			name:      "negative concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = -1 },
			errString: "concurrency must not be negative",
		},
		{
			name:      "negative batch size",
			mutate:    func(c *Config) { c.Worker.BatchSize = -5 },
			errString: "batch_size must not be negative",
		},
		{
			name:      "heartbeat slower than lease",
			mutate:    func(c *Config) { c.Worker.HeartbeatInterval = 10 * time.Minute },
			errString: "must be shorter than lease_duration (5m0s)",
		},
		{
			name: "heartbeat slower than default lease",
			mutate: func(c *Config) {
				c.Worker.LeaseDuration = 0
				c.Worker.HeartbeatInterval = 10 * time.Minute
			},
			errString: "heartbeat_interval (10m0s) must be shorter than lease_duration (5m0s)",
		},
		{
			name: "default heartbeat against short lease",
			mutate: func(c *Config) {
				c.Worker.LeaseDuration = 20 * time.Second
				c.Worker.HeartbeatInterval = 0
			},
			errString: "must be shorter than lease_duration",
		},
		{
			name: "forward name colliding with trigger routing key",
			mutate: func(c *Config) {
				c.RabbitMQ.RoutingKey = "jobs.create"
				c.Worker.ForwardJobNames = []string{"connector.export", "create"}
			},
			errString: `forward job "create" would publish to the trigger routing_key`,
		},
		{
			name: "forward names on other keys",
			mutate: func(c *Config) {
				c.RabbitMQ.RoutingKey = "jobs.create"
				c.Worker.ForwardJobNames = []string{"connector.export"}
			},
		},
		{
			name:      "bad cleanup cron",
			mutate:    func(c *Config) { c.Worker.CleanupCron = "every day" },
			errString: "invalid worker cleanup_cron",
		},
		{
			name:      "bad schedule cron",
			mutate:    func(c *Config) { c.Schedules[0].Cron = "61 * * * *" },
			errString: "invalid cron",
		},
		{
			name:      "unnamed schedule",
			mutate:    func(c *Config) { c.Schedules[0].Name = " " },
			errString: "name is required",
		},
		{
			name: "duplicate schedule",
			mutate: func(c *Config) {
				c.Schedules = append(c.Schedules, c.Schedules[0])
			},
			errString: "defined twice",
		},
		{
			name: "forwarding without rabbitmq",
			mutate: func(c *Config) {
				c.RabbitMQ.Enabled = false
				c.Worker.ForwardJobNames = []string{"connector.export"}
			},
			errString: "requires rabbitmq",
		},
		{
			name:      "database is still checked",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorkerConfig()

			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateWorkerConfig())
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

		err = cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})

	t.Run("load sqlite worker config with bad cleanup cron", func(t *testing.T) {
		cfg, err := Load("testdata/sqlite_worker.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.Validate())

		err = cfg.ValidateWorkerConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cleanup_cron")
	})
}

func TestPortConstants(t *testing.T) {
	assert.Equal(t, 1, MinPort)
	assert.Equal(t, 65535, MaxPort)
}
