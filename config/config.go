// Package config loads service settings from defaults, an optional file and
// ACCOUNTS_ prefixed environment variables, in increasing precedence.
package config

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-accounts"
	goerrors "github.com/goliatone/go-errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "ACCOUNTS"

type Config struct {
	Server   ServerConfig   `mapstructure:"server" json:"server"`
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	Redis    RedisConfig    `mapstructure:"redis" json:"redis"`
	Auth     AuthConfig     `mapstructure:"auth" json:"auth"`
	Frontend FrontendConfig `mapstructure:"frontend" json:"frontend"`
	Google   GoogleConfig   `mapstructure:"google" json:"google"`
	Mail     MailConfig     `mapstructure:"mail" json:"mail"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address" json:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
	AllowOrigins    string        `mapstructure:"allow_origins" json:"allow_origins"`
}

// DatabaseConfig selects the store. Driver is sqlite or postgres.
type DatabaseConfig struct {
	Driver      string `mapstructure:"driver" json:"driver"`
	DSN         string `mapstructure:"dsn" json:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate" json:"auto_migrate"`
}

// RedisConfig enables the shared session denylist. An empty Addr keeps
// revocations in process memory.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr"`
	Password string `mapstructure:"password" json:"password"`
	DB       int    `mapstructure:"db" json:"db"`
	Prefix   string `mapstructure:"prefix" json:"prefix"`
}

type AuthConfig struct {
	SigningKey      string        `mapstructure:"signing_key" json:"signing_key"`
	TokenExpiration time.Duration `mapstructure:"token_expiration" json:"token_expiration"`
	Issuer          string        `mapstructure:"issuer" json:"issuer"`
	Audience        []string      `mapstructure:"audience" json:"audience"`
	LinkSigningKey  string        `mapstructure:"link_signing_key" json:"link_signing_key"`
	VerificationTTL time.Duration `mapstructure:"verification_ttl" json:"verification_ttl"`
	ResetTTL        time.Duration `mapstructure:"reset_ttl" json:"reset_ttl"`
	TrustedDomain   string        `mapstructure:"trusted_domain" json:"trusted_domain"`
	NotifyTimeout   time.Duration `mapstructure:"notify_timeout" json:"notify_timeout"`
}

type FrontendConfig struct {
	URL string `mapstructure:"url" json:"url"`
}

// GoogleConfig enables Google sign in when ClientID is set
type GoogleConfig struct {
	ClientID     string        `mapstructure:"client_id" json:"client_id"`
	ClientSecret string        `mapstructure:"client_secret" json:"client_secret"`
	CallbackURL  string        `mapstructure:"callback_url" json:"callback_url"`
	StateSecret  string        `mapstructure:"state_secret" json:"state_secret"`
	StateTTL     time.Duration `mapstructure:"state_ttl" json:"state_ttl"`
}

// MailConfig picks the mailer. Driver is log or smtp.
type MailConfig struct {
	Driver      string `mapstructure:"driver" json:"driver"`
	Host        string `mapstructure:"host" json:"host"`
	Port        int    `mapstructure:"port" json:"port"`
	Username    string `mapstructure:"username" json:"username"`
	Password    string `mapstructure:"password" json:"password"`
	From        string `mapstructure:"from" json:"from"`
	ProductName string `mapstructure:"product_name" json:"product_name"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" json:"level"`
	Development bool   `mapstructure:"development" json:"development"`
}

var defaults = map[string]any{
	"server.address":          ":8080",
	"server.read_timeout":     "15s",
	"server.write_timeout":    "15s",
	"server.shutdown_timeout": "10s",
	"server.allow_origins":    "*",

	"database.driver":       "sqlite",
	"database.dsn":          "file:accounts.db?cache=shared",
	"database.auto_migrate": true,

	"redis.addr":     "",
	"redis.password": "",
	"redis.db":       0,
	"redis.prefix":   "accounts:denylist:",

	"auth.signing_key":      "",
	"auth.token_expiration": "24h",
	"auth.issuer":           "go-accounts",
	"auth.audience":         []string{"portal"},
	"auth.link_signing_key": "",
	"auth.verification_ttl": "60m",
	"auth.reset_ttl":        "60m",
	"auth.trusted_domain":   "",
	"auth.notify_timeout":   "5s",

	"frontend.url": "http://localhost:3000",

	"google.client_id":     "",
	"google.client_secret": "",
	"google.callback_url":  "",
	"google.state_secret":  "",
	"google.state_ttl":     "10m",

	"mail.driver":       "log",
	"mail.host":         "",
	"mail.port":         587,
	"mail.username":     "",
	"mail.password":     "",
	"mail.from":         "no-reply@example.com",
	"mail.product_name": "Portal",

	"log.level":       "info",
	"log.development": false,
}

// Load reads the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode config")
	}

	// env values for lists arrive as one comma separated string
	cfg.Auth.Audience = splitList(strings.Join(cfg.Auth.Audience, ","))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	err := validation.Errors{
		"server":   validation.ValidateStruct(&c.Server, validation.Field(&c.Server.Address, validation.Required)),
		"database": c.Database.validate(),
		"auth":     c.Auth.validate(),
		"frontend": validation.ValidateStruct(&c.Frontend, validation.Field(&c.Frontend.URL, validation.Required, is.URL)),
		"google":   c.Google.validate(),
		"mail":     c.Mail.validate(),
	}.Filter()
	if err == nil {
		return nil
	}
	return accounts.NewValidationError(flatten(err))
}

func (d DatabaseConfig) validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In("sqlite", "postgres")),
		validation.Field(&d.DSN, validation.Required),
	)
}

func (a AuthConfig) validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&a.LinkSigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&a.TokenExpiration, validation.Required, validation.Min(time.Minute)),
		validation.Field(&a.VerificationTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&a.ResetTTL, validation.Required, validation.Min(time.Minute)),
		validation.Field(&a.NotifyTimeout, validation.Required),
		validation.Field(&a.Issuer, validation.Required),
	)
}

func (g GoogleConfig) validate() error {
	if !g.Enabled() {
		return nil
	}
	return validation.ValidateStruct(&g,
		validation.Field(&g.ClientSecret, validation.Required),
		validation.Field(&g.CallbackURL, validation.Required, is.URL),
		validation.Field(&g.StateSecret, validation.Required, validation.Length(32, 0)),
	)
}

func (m MailConfig) validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Driver, validation.Required, validation.In("log", "smtp")),
		validation.Field(&m.Host, validation.When(m.Driver == "smtp", validation.Required)),
		validation.Field(&m.From, validation.Required, is.Email),
	)
}

// Enabled reports whether Google sign in is configured
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != ""
}

func flatten(err error) map[string]string {
	out := map[string]string{}
	var errs validation.Errors
	if !errors.As(err, &errs) {
		out["config"] = err.Error()
		return out
	}
	for section, e := range errs {
		var nested validation.Errors
		if errors.As(e, &nested) {
			for field, fe := range nested {
				out[section+"."+field] = fe.Error()
			}
			continue
		}
		out[section] = e.Error()
	}
	return out
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var _ accounts.Config = (*Config)(nil)

func (c *Config) GetSigningKey() string             { return c.Auth.SigningKey }
func (c *Config) GetTokenExpiration() time.Duration { return c.Auth.TokenExpiration }
func (c *Config) GetIssuer() string                 { return c.Auth.Issuer }
func (c *Config) GetAudience() []string             { return c.Auth.Audience }
func (c *Config) GetLinkSigningKey() string         { return c.Auth.LinkSigningKey }
func (c *Config) GetVerificationTTL() time.Duration { return c.Auth.VerificationTTL }
func (c *Config) GetResetTTL() time.Duration        { return c.Auth.ResetTTL }
func (c *Config) GetTrustedDomain() string          { return c.Auth.TrustedDomain }
func (c *Config) GetFrontendURL() string            { return c.Frontend.URL }
func (c *Config) GetNotifyTimeout() time.Duration   { return c.Auth.NotifyTimeout }
