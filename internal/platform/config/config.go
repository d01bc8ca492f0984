package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultPath = "config/config.yaml"

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql | sqlite3
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Path     string `yaml:"path"` // sqlite3 のみ
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	TLS         bool     `yaml:"tls"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret          string `yaml:"jwt_secret"`
	TokenTTLHours      int    `yaml:"token_ttl_hours"`
	LoginRatePerMinute int    `yaml:"login_rate_per_minute"`
}

type MailConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	SenderName  string `yaml:"sender_name"`
	SenderEmail string `yaml:"sender_email"`
}

type CirculationConfig struct {
	CodeTTLMinutes  int `yaml:"code_ttl_minutes"`
	DefaultLoanDays int `yaml:"default_loan_days"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

type Config struct {
	Version     string            `yaml:"version"`
	Mode        string            `yaml:"mode"`
	Server      ServerConfig      `yaml:"server"`
	DB          DatabaseConfig    `yaml:"database"`
	Certificate Certs             `yaml:"certificate"`
	Auth        AuthConfig        `yaml:"auth"`
	Mail        MailConfig        `yaml:"mail"`
	Circulation CirculationConfig `yaml:"circulation"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(buf)
}

// Parse decodes YAML, applies defaults and environment overrides, then validates.
func Parse(buf []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "mysql"
	}
	if c.DB.Driver == "mysql" && c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 24
	}
	if c.Auth.LoginRatePerMinute <= 0 {
		c.Auth.LoginRatePerMinute = 10
	}
	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}
	if c.Circulation.CodeTTLMinutes <= 0 {
		c.Circulation.CodeTTLMinutes = 10
	}
	if c.Circulation.DefaultLoanDays <= 0 {
		c.Circulation.DefaultLoanDays = 14
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "library-backend"
	}
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("LIBRARY_JWT_SECRET"); ok && v != "" {
		c.Auth.JWTSecret = v
	}
	if v, ok := os.LookupEnv("LIBRARY_DB_PASSWORD"); ok && v != "" {
		c.DB.Password = v
	}
	if v, ok := os.LookupEnv("LIBRARY_MAIL_PASSWORD"); ok && v != "" {
		c.Mail.Password = v
	}
}

func (c *Config) Validate() error {
	if c.Mode != "dev" && c.Mode != "release" {
		return fmt.Errorf("invalid mode %q (expected dev or release)", c.Mode)
	}
	switch c.DB.Driver {
	case "mysql":
		if c.DB.Host == "" || c.DB.DBName == "" {
			return fmt.Errorf("database.host and database.dbname are required for mysql")
		}
	case "sqlite3":
		if c.DB.Path == "" {
			return fmt.Errorf("database.path is required for sqlite3")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.DB.Driver)
	}
	if c.Auth.JWTSecret == "" {
		if c.Mode == "release" {
			return fmt.Errorf("auth.jwt_secret is required in release mode")
		}
		c.Auth.JWTSecret = "dev-secret-change-me"
	}
	if c.Mail.Enabled && (c.Mail.Host == "" || c.Mail.SenderEmail == "") {
		return fmt.Errorf("mail.host and mail.sender_email are required when mail is enabled")
	}
	return nil
}
