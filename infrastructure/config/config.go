package config

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"strings"
	"time"

	"shop_automation/domain/entities"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every automatic environment key, e.g. SHOPBOT_BROWSER_BACKEND
const EnvPrefix = "SHOPBOT"

// Config holds the entire application configuration
type Config struct {
	Target      TargetConfig         `mapstructure:"target" yaml:"target"`
	Credentials CredentialsConfig    `mapstructure:"credentials" yaml:"credentials"`
	Browser     BrowserConfig        `mapstructure:"browser" yaml:"browser"`
	Retry       RetryConfig          `mapstructure:"retry" yaml:"retry"`
	Timeouts    TimeoutsConfig       `mapstructure:"timeouts" yaml:"timeouts"`
	Session     SessionConfig        `mapstructure:"session" yaml:"session"`
	Artifacts   ArtifactsConfig      `mapstructure:"artifacts" yaml:"artifacts"`
	Schedule    ScheduleConfig       `mapstructure:"schedule" yaml:"schedule"`
	Logger      LoggerConfig         `mapstructure:"logger" yaml:"logger"`
	Site        entities.SiteProfile `mapstructure:"site" yaml:"site"`
}

type TargetConfig struct {
	URL        string `mapstructure:"url" yaml:"url"`
	SearchTerm string `mapstructure:"search_term" yaml:"search_term"`
}

type CredentialsConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
}

// BrowserConfig covers every backend. Backend "auto" picks the native backend for the OS.
type BrowserConfig struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	Headless    bool          `mapstructure:"headless" yaml:"headless"`
	Proxy       string        `mapstructure:"proxy" yaml:"proxy"`
	Extension   string        `mapstructure:"extension" yaml:"extension"`
	UserDataDir string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	BinaryPath  string        `mapstructure:"binary_path" yaml:"binary_path"`
	Application string        `mapstructure:"application" yaml:"application"`
	Attach      bool          `mapstructure:"attach" yaml:"attach"`
	DebugHost   string        `mapstructure:"debug_host" yaml:"debug_host"`
	DebugPort   int           `mapstructure:"debug_port" yaml:"debug_port"`
	SlowMoMin   time.Duration `mapstructure:"slow_mo_min" yaml:"slow_mo_min"`
	SlowMoMax   time.Duration `mapstructure:"slow_mo_max" yaml:"slow_mo_max"`
	StartupWait time.Duration `mapstructure:"startup_wait" yaml:"startup_wait"`
}

type PolicyConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier" yaml:"multiplier"`
}

// Policy converts the section into a validated retry policy
func (p PolicyConfig) Policy() (entities.RetryPolicy, error) {
	return entities.NewRetryPolicy(p.MaxAttempts, p.BaseDelay, p.Multiplier)
}

type RetryConfig struct {
	Navigation PolicyConfig `mapstructure:"navigation" yaml:"navigation"`
	Stage      PolicyConfig `mapstructure:"stage" yaml:"stage"`
}

type TimeoutsConfig struct {
	Element    time.Duration `mapstructure:"element" yaml:"element"`
	AuthMarker time.Duration `mapstructure:"auth_marker" yaml:"auth_marker"`
	CartMarker time.Duration `mapstructure:"cart_marker" yaml:"cart_marker"`
	Navigation time.Duration `mapstructure:"navigation" yaml:"navigation"`
	Command    time.Duration `mapstructure:"command" yaml:"command"`
	Settle     time.Duration `mapstructure:"settle" yaml:"settle"`
}

type SessionConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	// -- Target --
	v.SetDefault("target.url", "https://www.demoblaze.com/")
	v.SetDefault("target.search_term", "Samsung")

	// -- Credentials --
	v.SetDefault("credentials.username", "")
	v.SetDefault("credentials.password", "")

	// -- Browser --
	v.SetDefault("browser.backend", "inprocess")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.proxy", "")
	v.SetDefault("browser.extension", "")
	v.SetDefault("browser.user_data_dir", "")
	v.SetDefault("browser.binary_path", "")
	v.SetDefault("browser.application", "Google Chrome")
	v.SetDefault("browser.attach", false)
	v.SetDefault("browser.debug_host", "127.0.0.1")
	v.SetDefault("browser.debug_port", 9222)
	v.SetDefault("browser.slow_mo_min", "100ms")
	v.SetDefault("browser.slow_mo_max", "500ms")
	v.SetDefault("browser.startup_wait", "3s")

	// -- Retry --
	v.SetDefault("retry.navigation.max_attempts", 3)
	v.SetDefault("retry.navigation.base_delay", "1s")
	v.SetDefault("retry.navigation.multiplier", 2.0)
	v.SetDefault("retry.stage.max_attempts", 1)
	v.SetDefault("retry.stage.base_delay", "1s")
	v.SetDefault("retry.stage.multiplier", 2.0)

	// -- Timeouts --
	v.SetDefault("timeouts.element", "15s")
	v.SetDefault("timeouts.auth_marker", "15s")
	v.SetDefault("timeouts.cart_marker", "15s")
	v.SetDefault("timeouts.navigation", "60s")
	v.SetDefault("timeouts.command", "30s")
	v.SetDefault("timeouts.settle", "2s")

	// -- Session --
	v.SetDefault("session.enabled", true)
	v.SetDefault("session.dir", "")

	// -- Artifacts --
	v.SetDefault("artifacts.dir", ".")

	// -- Schedule --
	v.SetDefault("schedule.interval", "1m")

	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Site --
	site := entities.DemoblazeProfile()
	v.SetDefault("site.login_button", site.LoginButton)
	v.SetDefault("site.login_modal", site.LoginModal)
	v.SetDefault("site.username_input", site.UsernameInput)
	v.SetDefault("site.password_input", site.PasswordInput)
	v.SetDefault("site.submit_login", site.SubmitLogin)
	v.SetDefault("site.authenticated_marker", site.AuthenticatedMarker)
	v.SetDefault("site.category_link", site.CategoryLink)
	v.SetDefault("site.listing_entry", site.ListingEntry)
	v.SetDefault("site.product_name", site.ProductName)
	v.SetDefault("site.product_price", site.ProductPrice)
	v.SetDefault("site.product_description", site.ProductDescription)
	v.SetDefault("site.add_to_cart", site.AddToCart)
	v.SetDefault("site.cart_link", site.CartLink)
	v.SetDefault("site.cart_url", site.CartURL)
	v.SetDefault("site.cart_success_marker", site.CartSuccessMarker)
}

// Prepare wires defaults, the environment and the optional config file into v.
// A missing config file is not an error.
func Prepare(v *viper.Viper, cfgFile string) error {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("shopbot")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by existing .env files
	v.BindEnv("credentials.username", EnvPrefix+"_CREDENTIALS_USERNAME", "DEMOBLAZE_USER")
	v.BindEnv("credentials.password", EnvPrefix+"_CREDENTIALS_PASSWORD", "DEMOBLAZE_PASS")
	v.BindEnv("target.search_term", EnvPrefix+"_TARGET_SEARCH_TERM", "DEMOBLAZE_SEARCH")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// LoadDotEnv loads environment files into the process environment. Missing files are skipped.
func LoadDotEnv(paths ...string) (loaded []string, err error) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("failed to load %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// NewConfigFromViper unmarshals and validates the configuration held by v
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load - reads .env, the config file and the environment into a validated Config
func Load(cfgFile string) (*Config, error) {
	if _, err := LoadDotEnv(); err != nil {
		return nil, err
	}
	v := viper.New()
	if err := Prepare(v, cfgFile); err != nil {
		return nil, err
	}
	return NewConfigFromViper(v)
}

// Validate checks the configuration for required fields and sane values
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Target.URL) == "" {
		return fmt.Errorf("target.url is a required configuration field")
	}
	if c.Browser.Backend != "" && c.Browser.Backend != "auto" {
		if _, err := entities.ParseBackendKind(c.Browser.Backend); err != nil {
			return fmt.Errorf("browser.backend: %w", err)
		}
	}
	if _, err := c.Retry.Navigation.Policy(); err != nil {
		return fmt.Errorf("retry.navigation: %w", err)
	}
	if _, err := c.Retry.Stage.Policy(); err != nil {
		return fmt.Errorf("retry.stage: %w", err)
	}
	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be positive, got %s", c.Schedule.Interval)
	}
	if c.Browser.SlowMoMax < c.Browser.SlowMoMin {
		return fmt.Errorf("browser.slow_mo_max must not be below browser.slow_mo_min")
	}
	for name, d := range map[string]time.Duration{
		"timeouts.element":     c.Timeouts.Element,
		"timeouts.auth_marker": c.Timeouts.AuthMarker,
		"timeouts.cart_marker": c.Timeouts.CartMarker,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// BackendKind resolves the configured backend. "auto" and empty map to the native backend for goos.
func (c *Config) BackendKind(goos string) entities.BackendKind {
	if c.Browser.Backend == "" || c.Browser.Backend == "auto" {
		if goos == "" {
			goos = runtime.GOOS
		}
		return entities.NativeBackendFor(goos)
	}
	kind, err := entities.ParseBackendKind(c.Browser.Backend)
	if err != nil {
		return entities.BackendInProcess
	}
	return kind
}

func (c *Config) LaunchOptions() entities.LaunchOptions {
	return entities.LaunchOptions{
		Headless:      c.Browser.Headless,
		Proxy:         c.Browser.Proxy,
		ExtensionPath: c.Browser.Extension,
		UserDataDir:   c.Browser.UserDataDir,
		DebugPort:     c.Browser.DebugPort,
	}
}

func (c *Config) CredentialsValue() entities.Credentials {
	return entities.Credentials{Username: c.Credentials.Username, Password: c.Credentials.Password}
}
