// Package config loads the application configuration. Values are taken, in
// order of precedence, from command line flags, environment variables, a JSON
// file named by -c or CONFIG, and finally built-in defaults.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"reflect"
	"time"

	env "github.com/caarlos0/env/v6"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/sessionauth/internal/models"
)

type Config struct {
	RunAddr  string `env:"SERVER_ADDRESS" json:"server_address" validate:"hostname_port"`
	LogLevel string `env:"LOG_LEVEL" json:"log_level" validate:"loglevel"`

	IdentityProvider string        `env:"IDENTITY_PROVIDER" json:"identity_provider" validate:"oneof=memory kratos"`
	KratosPublicURL  string        `env:"KRATOS_PUBLIC_URL" json:"kratos_public_url" validate:"required_if=IdentityProvider kratos,omitempty,url"`
	KratosAdminURL   string        `env:"KRATOS_ADMIN_URL" json:"kratos_admin_url" validate:"omitempty,url"`
	KratosTimeout    time.Duration `env:"KRATOS_TIMEOUT" json:"-"`

	// TokenSigningKey is the base64url encoded key the in-memory identity
	// provider signs session tokens with. A random key is used when empty.
	TokenSigningKey string        `env:"TOKEN_SIGNING_KEY" json:"token_signing_key" validate:"omitempty,base64url"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" json:"-"`

	DBFileName          string        `env:"FILE_STORAGE_PATH" json:"file_storage_path" validate:"filepath"`
	DatabaseDSN         string        `env:"DATABASE_DSN" json:"database_dsn"`
	DBConnectionTimeout time.Duration `env:"DB_CONNECTION_TIMEOUT" json:"-"`
	MigrationsDir       string        `env:"MIGRATIONS_DIR" json:"migrations_dir"`

	SessionRefreshInterval time.Duration `env:"SESSION_REFRESH_INTERVAL" json:"-" validate:"gt=0"`
	ProvisioningMode       string        `env:"PROVISIONING_MODE" json:"provisioning_mode" validate:"oneof=sequenced concurrent"`
	CompensateRegistration bool          `env:"COMPENSATE_REGISTRATION" json:"compensate_registration"`

	TrustedSubnet     string `env:"TRUSTED_SUBNET" json:"trusted_subnet" validate:"omitempty,cidr"`
	TrustProxyHeaders bool   `env:"TRUST_PROXY_HEADERS" json:"trust_proxy_headers"`

	ConfigFile string `env:"CONFIG" json:"-"`
}

var defaultConfig = Config{
	RunAddr:                "localhost:8080",
	LogLevel:               "info",
	IdentityProvider:       models.IdentityProviderMemory,
	KratosTimeout:          5 * time.Second,
	TokenTTL:               time.Hour,
	DBConnectionTimeout:    10 * time.Second,
	MigrationsDir:          "cmd/authdemo/migrations",
	SessionRefreshInterval: time.Minute,
	ProvisioningMode:       models.ProvisioningSequenced,
}

var allowedLogLevels = []string{"debug", "info", "warn", "error", "fatal"}

type InitOption func(*initOptions)

type initOptions struct {
	disableFlagsParsing bool
}

func WithDisableFlagsParsing(disableFlagsParsing bool) InitOption {
	return func(options *initOptions) {
		options.disableFlagsParsing = disableFlagsParsing
	}
}

// New builds the configuration from all sources and validates it.
func New(optionsProto ...InitOption) (*Config, error) {
	options := &initOptions{
		disableFlagsParsing: false,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	if err := godotenv.Load(); err != nil {
		log.Printf("Unable to load .env file: %v", err)
	}

	var fromFlags Config
	flagsSet := map[string]bool{}
	if !options.disableFlagsParsing {
		var err error
		if flagsSet, err = parseFlags(&fromFlags, os.Args[1:]); err != nil {
			return nil, err
		}
	}

	var fromEnv Config
	if err := env.Parse(&fromEnv); err != nil {
		return nil, err
	}

	values := &Config{}

	configFile := fromFlags.ConfigFile
	if configFile == "" {
		configFile = fromEnv.ConfigFile
	}
	if configFile != "" {
		if err := loadJSON(values, configFile); err != nil {
			return nil, err
		}
		values.ConfigFile = configFile
	}

	overlay(values, &fromEnv, envSet())
	overlay(values, &fromFlags, flagsSet)
	applyDefaults(values, defaultConfig)

	if err := values.validate(); err != nil {
		return nil, err
	}

	return values, nil
}

// fieldsByFlag maps every command line flag to the Config field it sets.
var fieldsByFlag = map[string]string{
	"a": "RunAddr",
	"l": "LogLevel",
	"i": "IdentityProvider",
	"k": "KratosPublicURL",
	"K": "KratosAdminURL",
	"f": "DBFileName",
	"d": "DatabaseDSN",
	"p": "ProvisioningMode",
	"t": "TrustedSubnet",
	"c": "ConfigFile",
	"r": "SessionRefreshInterval",
	"C": "CompensateRegistration",
	"x": "TrustProxyHeaders",
}

// parseFlags fills values from args and returns the names of the fields
// whose flags were given explicitly.
func parseFlags(values *Config, args []string) (map[string]bool, error) {
	flags := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	flags.StringVar(&values.RunAddr, "a", "", "address and port to run server")
	flags.StringVar(&values.LogLevel, "l", "", "logger level")
	flags.StringVar(&values.IdentityProvider, "i", "", "identity provider: memory or kratos")
	flags.StringVar(&values.KratosPublicURL, "k", "", "Kratos public API URL")
	flags.StringVar(&values.KratosAdminURL, "K", "", "Kratos admin API URL")
	flags.StringVar(&values.DBFileName, "f", "", "JSON file name with the document store")
	flags.StringVar(&values.DatabaseDSN, "d", "", "a string with the database connection details")
	flags.StringVar(&values.ProvisioningMode, "p", "", "registration provisioning mode: sequenced or concurrent")
	flags.StringVar(&values.TrustedSubnet, "t", "", "trusted subnet in CIDR notation")
	flags.StringVar(&values.ConfigFile, "c", "", "JSON configuration file")
	flags.DurationVar(&values.SessionRefreshInterval, "r", 0, "session refresh interval")
	flags.BoolVar(&values.CompensateRegistration, "C", false, "delete the account when profile provisioning fails")
	flags.BoolVar(&values.TrustProxyHeaders, "x", false, "take the client address from X-Real-IP / X-Forwarded-For")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	set := map[string]bool{}
	flags.Visit(func(f *flag.Flag) {
		set[fieldsByFlag[f.Name]] = true
	})

	return set, nil
}

// envSet returns the names of the fields whose environment variables are
// present, empty or not.
func envSet() map[string]bool {
	set := map[string]bool{}
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		name, ok := t.Field(i).Tag.Lookup("env")
		if !ok {
			continue
		}
		if _, present := os.LookupEnv(name); present {
			set[t.Field(i).Name] = true
		}
	}

	return set
}

func loadJSON(values *Config, fileName string) error {
	raw, err := os.ReadFile(fileName)
	if err != nil {
		return fmt.Errorf("in internal/config/config.go/loadJSON(): error while `os.ReadFile()` calling: %w", err)
	}

	if err := json.Unmarshal(raw, values); err != nil {
		return fmt.Errorf("in internal/config/config.go/loadJSON(): error while `json.Unmarshal()` calling: %w", err)
	}

	return nil
}

// overlay copies over dst every field of src that is non-zero or explicitly
// set, so that an explicit false still overrides a lower source.
func overlay(dst, src *Config, explicit map[string]bool) {
	d := reflect.ValueOf(dst).Elem()
	s := reflect.ValueOf(src).Elem()
	t := d.Type()
	for i := 0; i < d.NumField(); i++ {
		if explicit[t.Field(i).Name] || !s.Field(i).IsZero() {
			d.Field(i).Set(s.Field(i))
		}
	}
}

// applyDefaults fills every zero field of values from defaults.
func applyDefaults(values *Config, defaults Config) {
	v := reflect.ValueOf(values).Elem()
	d := reflect.ValueOf(defaults)
	for i := 0; i < v.NumField(); i++ {
		if v.Field(i).IsZero() {
			v.Field(i).Set(d.Field(i))
		}
	}
}

func validateFilePath(fieldLevel validator.FieldLevel) bool {
	path := fieldLevel.Field().String()
	if path == "" {
		return true
	}
	_, err := os.Stat(path)

	return err == nil || os.IsNotExist(err)
}

func validateLogLevel(fieldLevel validator.FieldLevel) bool {
	return funk.ContainsString(allowedLogLevels, fieldLevel.Field().String())
}

func (c *Config) validate() error {
	validate := validator.New()

	if err := validate.RegisterValidation("loglevel", validateLogLevel); err != nil {
		return err
	}

	if err := validate.RegisterValidation("filepath", validateFilePath); err != nil {
		return err
	}

	if err := validate.Struct(c); err != nil {
		return err
	}

	return nil
}
