package config

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-account"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix namespaces environment overrides. Nested keys use a double
// underscore, e.g. ACCOUNT_AUTH__SIGNING_KEY.
const EnvPrefix = "ACCOUNT_"

const (
	MailDriverSMTP = "smtp"
	MailDriverLog  = "log"
)

type Config struct {
	Server      Server      `koanf:"server" json:"server"`
	Database    Database    `koanf:"database" json:"database"`
	Redis       Redis       `koanf:"redis" json:"redis"`
	Auth        Auth        `koanf:"auth" json:"auth"`
	Credentials Credentials `koanf:"credentials" json:"credentials"`
	Mail        Mail        `koanf:"mail" json:"mail"`
}

type Server struct {
	Address         string        `koanf:"address" json:"address"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	Debug           bool          `koanf:"debug" json:"debug"`
}

type Database struct {
	Dialect string `koanf:"dialect" json:"dialect"`
	DSN     string `koanf:"dsn" json:"-"`
}

// Redis enables the shared email lock when URL is set
type Redis struct {
	URL       string        `koanf:"url" json:"-"`
	KeyPrefix string        `koanf:"key_prefix" json:"key_prefix"`
	LockTTL   time.Duration `koanf:"lock_ttl" json:"lock_ttl"`
	LockWait  time.Duration `koanf:"lock_wait" json:"lock_wait"`
}

func (r Redis) Enabled() bool {
	return strings.TrimSpace(r.URL) != ""
}

type Auth struct {
	SigningKey string        `koanf:"signing_key" json:"-"`
	Issuer     string        `koanf:"issuer" json:"issuer"`
	SessionTTL time.Duration `koanf:"session_ttl" json:"session_ttl"`
	ActionTTL  time.Duration `koanf:"action_ttl" json:"action_ttl"`
}

type Credentials struct {
	Algorithm     string `koanf:"algorithm" json:"algorithm"`
	BcryptCost    int    `koanf:"bcrypt_cost" json:"bcrypt_cost"`
	Argon2Time    uint32 `koanf:"argon2_time" json:"argon2_time"`
	Argon2Memory  uint32 `koanf:"argon2_memory" json:"argon2_memory"`
	Argon2Threads uint8  `koanf:"argon2_threads" json:"argon2_threads"`
	Argon2KeyLen  uint32 `koanf:"argon2_key_len" json:"argon2_key_len"`
}

type Mail struct {
	Driver                  string        `koanf:"driver" json:"driver"`
	Host                    string        `koanf:"host" json:"host"`
	AccountVerificationPath string        `koanf:"account_verification_path" json:"account_verification_path"`
	ForgotPasswordPath      string        `koanf:"forgot_password_path" json:"forgot_password_path"`
	Workers                 int           `koanf:"workers" json:"workers"`
	QueueSize               int           `koanf:"queue_size" json:"queue_size"`
	Timeout                 time.Duration `koanf:"timeout" json:"timeout"`
	SMTP                    SMTP          `koanf:"smtp" json:"smtp"`
}

type SMTP struct {
	Host     string `koanf:"host" json:"host"`
	Port     int    `koanf:"port" json:"port"`
	Username string `koanf:"username" json:"username"`
	Password string `koanf:"password" json:"-"`
	From     string `koanf:"from" json:"from"`
	FromName string `koanf:"from_name" json:"from_name"`
	Security string `koanf:"security" json:"security"`
	HelloAs  string `koanf:"hello_as" json:"hello_as"`
}

// Defaults returns a configuration that runs locally against sqlite
func Defaults() Config {
	argon := account.DefaultArgon2Params()
	return Config{
		Server: Server{
			Address:         ":8572",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: Database{
			Dialect: account.DialectSQLite,
			DSN:     "file:account.db?cache=shared&_pragma=foreign_keys(1)",
		},
		Redis: Redis{
			KeyPrefix: "account:email-lock:",
			LockTTL:   account.DefaultLockTTL,
			LockWait:  account.DefaultLockWait,
		},
		Auth: Auth{
			Issuer:     "go-account",
			SessionTTL: account.DefaultSessionTTL,
			ActionTTL:  account.DefaultActionTTL,
		},
		Credentials: Credentials{
			Algorithm:     account.AlgorithmArgon2,
			BcryptCost:    12,
			Argon2Time:    argon.Time,
			Argon2Memory:  argon.Memory,
			Argon2Threads: argon.Threads,
			Argon2KeyLen:  argon.KeyLen,
		},
		Mail: Mail{
			Driver:                  MailDriverLog,
			Host:                    "http://localhost:8572",
			AccountVerificationPath: "/account/verify",
			ForgotPasswordPath:      "/account/renew-password",
			Workers:                 account.DefaultMailWorkers,
			QueueSize:               account.DefaultMailQueueSize,
			Timeout:                 account.DefaultMailTimeout,
			SMTP: SMTP{
				Port:     587,
				Security: account.SMTPSecuritySTARTTLS,
			},
		},
	}
}

// Validate will run validation rules
func (c Config) Validate() error {
	return validation.Errors{
		"server":      c.Server.Validate(),
		"database":    c.Database.Validate(),
		"redis":       c.Redis.Validate(),
		"auth":        c.Auth.Validate(),
		"credentials": c.Credentials.Validate(),
		"mail":        c.Mail.Validate(),
	}.Filter()
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required),
	)
}

func (d Database) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Dialect, validation.Required, validation.In(account.DialectSQLite, account.DialectPostgres)),
		validation.Field(&d.DSN, validation.Required),
	)
}

func (r Redis) Validate() error {
	if !r.Enabled() {
		return nil
	}
	return validation.ValidateStruct(&r,
		validation.Field(&r.URL, validation.Required),
		validation.Field(&r.LockTTL, validation.Required),
		validation.Field(&r.LockWait, validation.Required),
	)
}

func (a Auth) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.SigningKey, validation.Required, validation.Length(32, 0)),
		validation.Field(&a.SessionTTL, validation.Required),
		validation.Field(&a.ActionTTL, validation.Required),
	)
}

func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Algorithm, validation.In(account.AlgorithmArgon2, account.AlgorithmBcrypt)),
		validation.Field(&c.BcryptCost, validation.Min(4), validation.Max(31)),
	)
}

func (m Mail) Validate() error {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Driver, validation.Required, validation.In(MailDriverSMTP, MailDriverLog)),
		validation.Field(&m.Host, validation.Required, is.RequestURL),
		validation.Field(&m.AccountVerificationPath, validation.Required),
		validation.Field(&m.ForgotPasswordPath, validation.Required),
	)
	if err != nil || m.Driver != MailDriverSMTP {
		return err
	}

	smtp := m.SMTP
	return validation.ValidateStruct(&smtp,
		validation.Field(&smtp.Host, validation.Required),
		validation.Field(&smtp.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&smtp.From, validation.Required, is.Email),
		validation.Field(&smtp.Security, validation.In(
			account.SMTPSecurityNone,
			account.SMTPSecuritySTARTTLS,
			account.SMTPSecuritySSL,
		)),
	)
}

func (a Auth) TokenConfig() account.TokenConfig {
	return account.TokenConfig{
		SigningKey: []byte(a.SigningKey),
		Issuer:     a.Issuer,
		SessionTTL: a.SessionTTL,
		ActionTTL:  a.ActionTTL,
	}
}

func (c Credentials) Argon2Params() account.Argon2Params {
	return account.Argon2Params{
		Time:    c.Argon2Time,
		Memory:  c.Argon2Memory,
		Threads: c.Argon2Threads,
		KeyLen:  c.Argon2KeyLen,
	}
}

// Hasher resolves the configured PasswordHasher
func (c Credentials) Hasher() (account.PasswordHasher, error) {
	return account.NewPasswordHasher(c.Algorithm, c.Argon2Params(), c.BcryptCost)
}

func (m Mail) MailConfig() account.MailConfig {
	return account.MailConfig{
		Host:                    m.Host,
		AccountVerificationPath: m.AccountVerificationPath,
		ForgotPasswordPath:      m.ForgotPasswordPath,
	}
}

func (m Mail) SMTPConfig() account.SMTPConfig {
	return account.SMTPConfig{
		Host:     m.SMTP.Host,
		Port:     m.SMTP.Port,
		Username: m.SMTP.Username,
		Password: m.SMTP.Password,
		From:     m.SMTP.From,
		FromName: m.SMTP.FromName,
		Security: m.SMTP.Security,
		HelloAs:  m.SMTP.HelloAs,
		Timeout:  m.Timeout,
	}
}

// Flags declares the command line overrides understood by Load
func Flags(name string) *pflag.FlagSet {
	def := Defaults()

	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.StringP("config", "c", "", "path to a yaml or json config file")
	flags.String("env-file", ".env", "dotenv file loaded into the environment")
	flags.String("server.address", def.Server.Address, "listen address")
	flags.Bool("server.debug", def.Server.Debug, "log decoded request payloads")
	flags.String("database.dialect", def.Database.Dialect, "sqlite or postgres")
	flags.String("database.dsn", def.Database.DSN, "database connection string")
	flags.String("redis.url", def.Redis.URL, "redis url for the shared email lock")
	flags.String("mail.driver", def.Mail.Driver, "smtp or log")
	flags.String("mail.host", def.Mail.Host, "base url for links in outgoing mail")
	return flags
}

type loadOptions struct {
	flags   *pflag.FlagSet
	file    string
	envFile string
	lookup  bool
}

type LoadOption func(*loadOptions)

// WithFlags applies parsed command line flags last
func WithFlags(fs *pflag.FlagSet) LoadOption {
	return func(o *loadOptions) {
		o.flags = fs
	}
}

// WithFile reads a yaml or json file on top of the defaults
func WithFile(path string) LoadOption {
	return func(o *loadOptions) {
		o.file = path
	}
}

// WithEnvFile loads a dotenv file before reading the environment
func WithEnvFile(path string) LoadOption {
	return func(o *loadOptions) {
		o.envFile = path
	}
}

// WithoutEnv skips environment variables
func WithoutEnv() LoadOption {
	return func(o *loadOptions) {
		o.lookup = false
	}
}

// Load resolves the configuration. Later sources win: defaults, file,
// dotenv and environment, flags.
func Load(opts ...LoadOption) (Config, error) {
	o := &loadOptions{lookup: true}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	if o.flags != nil {
		if o.file == "" {
			o.file, _ = o.flags.GetString("config")
		}
		if o.envFile == "" {
			o.envFile, _ = o.flags.GetString("env-file")
		}
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load config defaults")
	}

	if o.file != "" {
		parser, err := parserFor(o.file)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(o.file), parser); err != nil {
			return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read config file").
				WithMetadata(map[string]any{"file": o.file})
		}
	}

	if o.lookup {
		if o.envFile != "" {
			if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read env file").
					WithMetadata(map[string]any{"file": o.envFile})
			}
		}

		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return Config{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read environment")
		}
	}

	if o.flags != nil {
		if err := k.Load(posflag.Provider(o.flags, ".", k), nil); err != nil {
			return Config{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to decode config")
	}

	return cfg, nil
}

// envKey maps ACCOUNT_MAIL__SMTP__FROM_NAME to mail.smtp.from_name
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(key, "__", ".")
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, goerrors.New("unsupported config file format", goerrors.CategoryBadInput).
			WithTextCode(account.TextCodeInvalidInput).
			WithMetadata(map[string]any{"file": path})
	}
}
