// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/satview/internal/imagery"
	"github.com/JakeFAU/satview/internal/logging"
	"github.com/JakeFAU/satview/internal/storage"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Imagery  ImageryConfig  `mapstructure:"imagery"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	StaticDir       string        `mapstructure:"static_dir"`
	WelcomeMessage  string        `mapstructure:"welcome_message"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ImageMaxAge     time.Duration `mapstructure:"image_max_age"`
}

// ImageryConfig describes the WMS request issued on every refresh.
type ImageryConfig struct {
	BaseURL      string              `mapstructure:"base_url"`
	Layer        string              `mapstructure:"layer"`
	CRS          string              `mapstructure:"crs"`
	Width        int                 `mapstructure:"width"`
	Height       int                 `mapstructure:"height"`
	BBox         imagery.BoundingBox `mapstructure:"bbox"`
	Timeout      time.Duration       `mapstructure:"timeout"`
	UserAgent    string              `mapstructure:"user_agent"`
	MaxBodyBytes int                 `mapstructure:"max_body_bytes"`
}

// RefreshConfig controls the background loop.
type RefreshConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// SideEffectTimeout bounds each persist, publish and history write.
	SideEffectTimeout time.Duration `mapstructure:"side_effect_timeout"`
}

// StorageConfig selects where the operational copy of the image is written.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	ObjectName  string             `mapstructure:"object_name"`
	LoadOnStart bool               `mapstructure:"load_on_start"`
	Local       LocalStorageConfig `mapstructure:"local"`
	GCS         GCSStorageConfig   `mapstructure:"gcs"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSStorageConfig configures the Cloud Storage backend.
type GCSStorageConfig struct {
	Bucket       string `mapstructure:"bucket"`
	CacheControl string `mapstructure:"cache_control"`
}

// DatabaseConfig controls the fetch history backend. An empty DSN keeps
// history in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
	HistorySize     int           `mapstructure:"history_size"`
}

// PubSubConfig holds metadata for refresh notifications. Without a project ID
// events stay in process; an empty topic disables publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SATVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// PORT is the conventional platform override.
	if err := v.BindEnv("server.port", "SATVIEW_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("bind port env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.static_dir", "frontend")
	v.SetDefault("server.welcome_message", "Bem-vindo ao Sat Norte de Minas Gerais 🚀")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.image_max_age", 5*time.Minute)
	v.SetDefault("imagery.base_url", "https://gibs.earthdata.nasa.gov/wms/epsg4326/best/wms.cgi")
	v.SetDefault("imagery.layer", "VIIRS_SNPP_CorrectedReflectance_TrueColor")
	v.SetDefault("imagery.crs", "EPSG:4326")
	v.SetDefault("imagery.width", 800)
	v.SetDefault("imagery.height", 800)
	v.SetDefault("imagery.bbox.west", -46.5)
	v.SetDefault("imagery.bbox.south", -17.5)
	v.SetDefault("imagery.bbox.east", -42.0)
	v.SetDefault("imagery.bbox.north", -14.0)
	v.SetDefault("imagery.timeout", 60*time.Second)
	v.SetDefault("imagery.user_agent", "satview/0.1")
	v.SetDefault("imagery.max_body_bytes", 20*1024*1024)
	v.SetDefault("refresh.interval", 4*time.Hour)
	v.SetDefault("refresh.side_effect_timeout", 30*time.Second)
	v.SetDefault("storage.backend", storage.BackendLocal)
	v.SetDefault("storage.object_name", "satellite_image.jpg")
	v.SetDefault("storage.load_on_start", false)
	v.SetDefault("storage.local.base_dir", "data")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.cache_control", "public, max-age=300")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "image_fetches")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.migrate", true)
	v.SetDefault("database.history_size", 200)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "satview-image-refreshed")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	if c.Imagery.BaseURL == "" {
		return fmt.Errorf("imagery.base_url is required")
	}
	if c.Imagery.Layer == "" {
		return fmt.Errorf("imagery.layer is required")
	}
	if c.Imagery.Width <= 0 || c.Imagery.Height <= 0 {
		return fmt.Errorf("imagery.width and imagery.height must be > 0")
	}
	if err := c.Imagery.BBox.Validate(); err != nil {
		return fmt.Errorf("imagery.bbox: %w", err)
	}
	if c.Imagery.Timeout <= 0 {
		return fmt.Errorf("imagery.timeout must be > 0")
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be > 0")
	}
	if c.Refresh.SideEffectTimeout <= 0 {
		return fmt.Errorf("refresh.side_effect_timeout must be > 0")
	}
	switch c.Storage.Backend {
	case storage.BackendNone, storage.BackendMemory:
	case storage.BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case storage.BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend != storage.BackendNone && c.Storage.ObjectName == "" {
		return fmt.Errorf("storage.object_name is required")
	}
	if c.Logging.Level != "" {
		if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
			return fmt.Errorf("logging.level: %w", err)
		}
	}
	return nil
}

// WMS converts the imagery section into request parameters.
func (c Config) WMS() imagery.WMSParams {
	return imagery.WMSParams{
		BaseURL: c.Imagery.BaseURL,
		Layer:   c.Imagery.Layer,
		CRS:     c.Imagery.CRS,
		Width:   c.Imagery.Width,
		Height:  c.Imagery.Height,
		BBox:    c.Imagery.BBox,
	}
}
