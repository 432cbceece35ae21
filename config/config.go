package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Backup  BackupConfig  `mapstructure:"backup"`
	Game    GameConfig    `mapstructure:"game"`
}

type ServerConfig struct {
	HTTPAddress    string        `mapstructure:"http_address"`
	AdminKey       string        `mapstructure:"admin_key"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxConnsPerIP  int           `mapstructure:"max_conns_per_ip"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

type StorageConfig struct {
	// Backend is "file" or "sqlite".
	Backend    string `mapstructure:"backend"`
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type BackupConfig struct {
	Dir       string `mapstructure:"dir"`
	Retention int    `mapstructure:"retention"`
}

type GameConfig struct {
	EventTick       time.Duration `mapstructure:"event_tick"`
	AuctionMonitor  time.Duration `mapstructure:"auction_monitor"`
	TokenLifetime   time.Duration `mapstructure:"token_lifetime"`
	StartLocationID string        `mapstructure:"start_location"`
}

func Load(path string) (config *Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("HW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err = viper.ReadInConfig(); err != nil {
		// The server must come up with defaults and env vars alone.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	err = viper.Unmarshal(&config)
	return
}

func setDefaults() {
	viper.SetDefault("server.http_address", ":8080")
	viper.SetDefault("server.admin_key", "")
	viper.SetDefault("server.max_connections", 1000)
	viper.SetDefault("server.max_conns_per_ip", 10)
	viper.SetDefault("server.ping_interval", 30*time.Second)

	viper.SetDefault("storage.backend", "file")
	viper.SetDefault("storage.data_dir", "data")
	viper.SetDefault("storage.sqlite_path", "data/game.db")

	viper.SetDefault("backup.dir", "backups")
	viper.SetDefault("backup.retention", 10)

	viper.SetDefault("game.event_tick", time.Second)
	viper.SetDefault("game.auction_monitor", 10*time.Second)
	viper.SetDefault("game.token_lifetime", 7*24*time.Hour)
	viper.SetDefault("game.start_location", "town-square")
}
