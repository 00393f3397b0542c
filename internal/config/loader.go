package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Unwind   UnwindConfig   `mapstructure:"unwind"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Features FeaturesConfig `mapstructure:"features"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// RunnerConfig describes how the deployment scripts are invoked. Mode
// "local" shells out on this host; mode "ssh" runs the same commands on a
// remote operations host.
type RunnerConfig struct {
	Mode           string   `mapstructure:"mode"`
	WorkDir        string   `mapstructure:"work_dir"`
	DeployCommand  []string `mapstructure:"deploy_command"`
	DestroyCommand []string `mapstructure:"destroy_command"`
	// The teardown script asks for typed confirmation before deleting
	// resources; this phrase is written to its stdin.
	DestroyConfirmation string    `mapstructure:"destroy_confirmation"`
	RemoteLogPath       string    `mapstructure:"remote_log_path"`
	SSH                 SSHConfig `mapstructure:"ssh"`
}

type SSHConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	KeyFile    string        `mapstructure:"key_file"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type UnwindConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type FeaturesConfig struct {
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
}

// Load reads config from the given yaml file with PIPEDASH_* environment
// overrides. A .env file next to the working directory is loaded first so
// the runner scripts and the server share one set of credentials.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	viper.SetConfigFile(path)
	viper.SetEnvPrefix("PIPEDASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.Path == "" {
		cfg.Database.Path = "pipedash.db"
	}
	if cfg.Runner.Mode == "" {
		cfg.Runner.Mode = "local"
	}
	if len(cfg.Runner.DeployCommand) == 0 {
		cfg.Runner.DeployCommand = []string{"python3", "bin/deploy.py"}
	}
	if len(cfg.Runner.DestroyCommand) == 0 {
		cfg.Runner.DestroyCommand = []string{"python3", "bin/unwind.py"}
	}
	if cfg.Runner.DestroyConfirmation == "" {
		cfg.Runner.DestroyConfirmation = "DESTROY"
	}
	if cfg.Unwind.Timeout == 0 {
		cfg.Unwind.Timeout = 40 * time.Minute
	}
}
