package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// DBConfig holds database connection settings. Type selects the backend:
// "memory", "sqlite" or "postgres".
type DBConfig struct {
	Type     string `json:"type" mapstructure:"type"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	Path     string `json:"path" mapstructure:"path"`
}

// DSN returns the postgres connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.Username, c.Password, c.Database,
	)
}

// RoutingConfig holds upstream routing engine settings.
type RoutingConfig struct {
	OSRMURL       string `json:"osrmUrl" mapstructure:"osrmUrl"`
	ORSURL        string `json:"orsUrl" mapstructure:"orsUrl"`
	ORSAPIKey     string `json:"orsApiKey" mapstructure:"orsApiKey"`
	ThrottleLimit int    `json:"throttleLimit" mapstructure:"throttleLimit"`
}

// GeocoderConfig holds the places search backend settings.
type GeocoderConfig struct {
	URL       string `json:"url" mapstructure:"url"`
	UserAgent string `json:"userAgent" mapstructure:"userAgent"`
}

// OTelConfig holds OpenTelemetry export settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("server.addr", ":8080")

	viper.SetDefault("db.type", "memory")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "mapsync")
	viper.SetDefault("db.path", "./mapsync.db")

	viper.SetDefault("track.unitsPerPixel", 0.0)

	viper.SetDefault("routing.osrmUrl", "https://router.project-osrm.org")
	viper.SetDefault("routing.orsUrl", "")
	viper.SetDefault("routing.orsApiKey", "")
	viper.SetDefault("routing.throttleLimit", 4)

	viper.SetDefault("geocoder.url", "https://nominatim.openstreetmap.org")
	viper.SetDefault("geocoder.userAgent", "mapsync")

	viper.SetDefault("elevation.url", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "mapsync-metrics")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "mapsync")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetConfigName("mapsync.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat64 returns a float64 config value.
func GetFloat64(key string) float64 {
	return viper.GetFloat64(key)
}

// GetDBConfig returns the database settings.
func GetDBConfig() DBConfig {
	var cfg DBConfig
	if err := viper.UnmarshalKey("db", &cfg); err != nil {
		return DBConfig{Type: "memory"}
	}
	return cfg
}

// GetRoutingConfig returns the routing engine settings.
func GetRoutingConfig() RoutingConfig {
	var cfg RoutingConfig
	if err := viper.UnmarshalKey("routing", &cfg); err != nil {
		return RoutingConfig{}
	}
	return cfg
}

// GetGeocoderConfig returns the places search settings.
func GetGeocoderConfig() GeocoderConfig {
	var cfg GeocoderConfig
	if err := viper.UnmarshalKey("geocoder", &cfg); err != nil {
		return GeocoderConfig{}
	}
	return cfg
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}
