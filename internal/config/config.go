package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string           `yaml:"env" env-default:"prod"`
	Link       LinkConfig       `yaml:"link"`
	Control    ControlConfig    `yaml:"control"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	API        APIConfig        `yaml:"api"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
}

type LinkConfig struct {
	Port              string        `yaml:"port" env:"LINK_PORT" env-default:"/dev/ttyACM0"`
	BaudRate          int           `yaml:"baud_rate" env:"LINK_BAUD_RATE" env-default:"9600"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env-default:"1s"`
	PollInterval      time.Duration `yaml:"poll_interval" env-default:"100ms"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" env-default:"5s"`
	DrainLines        int           `yaml:"drain_lines" env-default:"10"`
	DrainTimeout      time.Duration `yaml:"drain_timeout" env-default:"200ms"`
	MaxLineLength     int           `yaml:"max_line_length" env-default:"256"`
}

type SupervisorConfig struct {
	CycleInterval time.Duration `yaml:"cycle_interval" env-default:"1s"`
	StaleAfter    time.Duration `yaml:"stale_after" env-default:"10s"`
}

type APIConfig struct {
	Address      string        `yaml:"address" env:"API_ADDRESS" env-default:":5000"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env-default:"5s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env-default:"10s"`
}

type StorageConfig struct {
	Enabled bool   `yaml:"enabled" env-default:"false"`
	Path    string `yaml:"path" env-default:"/var/lib/tankgate/state.db"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env-default:"json"`
}

func MustLoad(configPath string) *Config {
	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}

	if configPath == "" {
		configPath = "config/config.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file not found: " + configPath)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("failed to read config: " + err.Error())
	}

	return &cfg
}
