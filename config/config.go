package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort           = "3000"
	defaultCataloguePath  = "cars.json"
	defaultUploadDir      = "uploads"
	defaultPublicPrefix   = "/uploads"
	defaultAdminUser      = "Admin"
	defaultAdminPass      = "12345"
	defaultMaxImages      = 10
	defaultMaxImageBytes  = 5 * 1024 * 1024
	defaultMaxConnections = 256
	defaultLogLevel       = "info"
)

// Config is the runtime configuration handed to every component at startup.
type Config struct {
	Port           string `yaml:"port" validate:"required,numeric"`
	CataloguePath  string `yaml:"catalogue_path" validate:"required"`
	UploadDir      string `yaml:"upload_dir" validate:"required"`
	PublicPrefix   string `yaml:"public_prefix" validate:"required,startswith=/"`
	AdminUser      string `yaml:"admin_user" validate:"required"`
	AdminPass      string `yaml:"admin_pass" validate:"required"`
	MaxImages      int    `yaml:"max_images" validate:"gte=0"`
	MaxImageBytes  int64  `yaml:"max_image_bytes" validate:"gt=0"`
	MaxConnections int    `yaml:"max_connections" validate:"gt=0"`
	LogLevel       string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogPretty      bool   `yaml:"log_pretty"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:           defaultPort,
		CataloguePath:  defaultCataloguePath,
		UploadDir:      defaultUploadDir,
		PublicPrefix:   defaultPublicPrefix,
		AdminUser:      defaultAdminUser,
		AdminPass:      defaultAdminPass,
		MaxImages:      defaultMaxImages,
		MaxImageBytes:  defaultMaxImageBytes,
		MaxConnections: defaultMaxConnections,
		LogLevel:       defaultLogLevel,
	}
}

// Load builds a Config from defaults, then the optional YAML file, then
// environment variables. The result is validated.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		if err := cfg.overlayFile(filename); err != nil {
			return nil, err
		}
	}
	if err := cfg.overlayEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// BodyLimit is the largest request body the transport accepts: every image
// slot at full size plus room for the text fields and multipart framing.
func (c *Config) BodyLimit() int {
	return c.MaxImages*int(c.MaxImageBytes) + 1024*1024
}

// Validate checks the struct tags on Config.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func (c *Config) overlayFile(filename string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file '%s': %w", filename, err)
	}
	if err := yaml.Unmarshal(content, c); err != nil {
		return fmt.Errorf("error parsing config file '%s': %w", filename, err)
	}
	return nil
}

func (c *Config) overlayEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.CataloguePath, "CATALOGUE_PATH")
	setString(&c.UploadDir, "UPLOAD_DIR")
	setString(&c.PublicPrefix, "PUBLIC_PREFIX")
	setString(&c.AdminUser, "ADMIN_USER")
	setString(&c.AdminPass, "ADMIN_PASS")
	setString(&c.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("MAX_IMAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_IMAGES '%s': %w", v, err)
		}
		c.MaxImages = n
	}
	if v := os.Getenv("MAX_IMAGE_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_IMAGE_BYTES '%s': %w", v, err)
		}
		c.MaxImageBytes = n
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_CONNECTIONS '%s': %w", v, err)
		}
		c.MaxConnections = n
	}
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_PRETTY '%s': %w", v, err)
		}
		c.LogPretty = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
