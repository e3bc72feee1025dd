// Package config loads the configuration of uowctl and of applications connecting
// the PostgreSQL engine, from a file and UOW_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/go-arrower/uow/alog"
	"github.com/go-arrower/uow/postgres"
)

var (
	ErrLoad    = errors.New("loading configuration failed")
	ErrInvalid = errors.New("invalid configuration")
)

// EnvPrefix is the prefix of all environment variables, e.g. UOW_POSTGRES_HOST.
const EnvPrefix = "UOW"

type Environment string

const (
	LocalEnv       Environment = "local"
	TestEnv        Environment = "test"
	DevelopmentEnv Environment = "dev"
	ProductionEnv  Environment = "prod"
)

type (
	Config struct {
		Environment Environment `mapstructure:"environment" json:"environment" validate:"oneof=local test dev prod"`

		Log      Log      `mapstructure:"log"      json:"log"`
		Postgres Postgres `mapstructure:"postgres" json:"postgres"`
		OTEL     OTEL     `mapstructure:"otel"     json:"otel"`
	}

	Log struct {
		Level string `mapstructure:"level" json:"level" validate:"loglevel"`
		Loki  Loki   `mapstructure:"loki"  json:"loki"`
	}

	Loki struct {
		Enabled bool   `mapstructure:"enabled"  json:"enabled"`
		PushURL string `mapstructure:"push_url" json:"pushURL" validate:"omitempty,url"`
	}

	Postgres struct {
		User          string `mapstructure:"user"           json:"user"          validate:"required"`
		Password      Secret `mapstructure:"password"       json:"password"`
		Database      string `mapstructure:"database"       json:"database"      validate:"required"`
		Host          string `mapstructure:"host"           json:"host"          validate:"required"`
		Port          int    `mapstructure:"port"           json:"port"          validate:"min=1,max=65535"`
		SSLMode       string `mapstructure:"ssl_mode"       json:"sslMode"       validate:"oneof=disable allow prefer require verify-ca verify-full"` //nolint:lll
		MaxConns      int    `mapstructure:"max_conns"      json:"maxConns"      validate:"min=1"`
		MigrationsDir string `mapstructure:"migrations_dir" json:"migrationsDir"`
	}

	OTEL struct {
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Host    string `mapstructure:"host"    json:"host"    validate:"required_if=Enabled true"`
		Port    int    `mapstructure:"port"    json:"port"    validate:"min=1,max=65535"`
	}
)

// LogLevel returns the parsed Log.Level.
func (c Config) LogLevel() slog.Level {
	level, _ := alog.ParseLevel(c.Log.Level) // validated by Load

	return level
}

// Config returns the configuration used by postgres.Connect.
// The migrations are read from MigrationsDir, if set.
func (p Postgres) Config() postgres.Config {
	conf := postgres.Config{
		User:     p.User,
		Password: p.Password.Secret(),
		Database: p.Database,
		SSLMode:  p.SSLMode,
		Host:     p.Host,
		Port:     p.Port,
		MaxConns: p.MaxConns,
	}

	if p.MigrationsDir != "" {
		conf.Migrations = os.DirFS(p.MigrationsDir)
	}

	return conf
}

// DefaultViper returns a new viper instance with the default value of every key of Config set.
// Every key can be overwritten by an environment variable with the EnvPrefix.
func DefaultViper() *viper.Viper {
	vip := viper.New()

	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vip.AutomaticEnv()

	vip.SetDefault("environment", string(LocalEnv))

	vip.SetDefault("log.level", "info")
	vip.SetDefault("log.loki.enabled", false)
	vip.SetDefault("log.loki.push_url", "http://localhost:3100/api/prom/push")

	vip.SetDefault("postgres.user", "uow")
	vip.SetDefault("postgres.password", "secret")
	vip.SetDefault("postgres.database", "uow")
	vip.SetDefault("postgres.host", "localhost")
	vip.SetDefault("postgres.port", 5432)
	vip.SetDefault("postgres.ssl_mode", "disable")
	vip.SetDefault("postgres.max_conns", 10)
	vip.SetDefault("postgres.migrations_dir", "")

	vip.SetDefault("otel.enabled", false)
	vip.SetDefault("otel.host", "localhost")
	vip.SetDefault("otel.port", 4317)

	return vip
}

// Load reads the configuration file, if file is not empty, on top of DefaultViper and validates the result.
func Load(file string) (*Config, error) {
	vip := DefaultViper()

	if file != "" {
		vip.SetConfigFile(file)

		if err := vip.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: could not read %s: %v", ErrLoad, file, err) //nolint:errorlint // prevent err in api
		}
	}

	return Unmarshal(vip)
}

// Unmarshal decodes and validates the Config held by vip.
func Unmarshal(vip *viper.Viper) (*Config, error) {
	conf := &Config{}

	err := vip.Unmarshal(conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		environmentHookFunc(),
	)))
	if err != nil {
		return nil, fmt.Errorf("%w: could not decode configuration: %v", ErrLoad, err) //nolint:errorlint // prevent err in api
	}

	if err := Validate(conf); err != nil {
		return nil, err
	}

	return conf, nil
}

// Validate checks all values of conf.
func Validate(conf *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	_ = validate.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		_, err := alog.ParseLevel(fl.Field().String())
		return err == nil
	})

	if err := validate.Struct(conf); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalid, err) //nolint:errorlint // prevent err in api
		}

		fields := make([]string, 0, len(verrs))
		for _, e := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", e.Namespace(), e.Tag()))
		}

		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
	}

	return nil
}

func environmentHookFunc() mapstructure.DecodeHookFuncType {
	return func(_ reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(Environment("")) {
			return data, nil
		}

		if s, ok := data.(string); ok {
			return Environment(strings.ToLower(strings.TrimSpace(s))), nil
		}

		return data, nil
	}
}
