package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		AppName          string
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		SecretKey        string
		DefaultFromEmail string
		FrontendBaseURL  string
		WorkDir          string
		TrialPeriod      time.Duration
		SendgridAPIKey   string
		RollbarToken     string

		Server   ServerConfig
		Database DatabaseConfig
		OTP      OTPConfig
		SMS      SMSConfig
		Storage  StorageConfig
		AI       AIConfig
		Tracing  TracingConfig
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugAddress              string
		AllowedOrigins            []string
		TrustedProxies            []string // CIDRs allowed to set X-Forwarded-For
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		PasswordResetTimeoutDelta time.Duration
		RateLimit                 RateLimitConfig
	}

	RateLimitConfig struct {
		PerSecond float64
		Burst     int
		TTL       time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		MaxOpenConns  int
	}

	OTPConfig struct {
		Length      int
		TTL         time.Duration
		MaxAttempts int
	}

	SMSConfig struct {
		Provider string // console | kavenegar
		APIKey   string
		Sender   string
		BaseURL  string
	}

	StorageConfig struct {
		Endpoint  string
		AccessKey string
		SecretKey string
		Bucket    string
		UseSSL    bool
		URLExpiry time.Duration
	}

	AIConfig struct {
		BaseURL string
		APIKey  string
		Model   string
		Timeout time.Duration
	}

	TracingConfig struct {
		Enabled  bool
		Endpoint string
		Insecure bool
		Sample   float64
	}
)

// Address returns the database "host:port".
func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultFromAddress parses DefaultFromEmail, falling back to a bare address.
func (c *Config) DefaultFromAddress() mail.Address {
	addr, err := mail.ParseAddress(c.DefaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: c.DefaultFromEmail}
	}
	return *addr
}

// NewConfig reads the configuration from the environment (and an optional `config/.env.<env>` file).
func NewConfig() *Config {
	v := viper.New()

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}

	v.SetTypeByDefaultValue(true)
	v.SetDefault("appName", "دفتر رابط")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", env == "DEV")
	v.SetDefault("testMode", env == "TEST")
	v.SetDefault("secretKey", "kq3#r8w-9x!v2@pz7&m1$c6^d0+fh5=jn4(sy)ta_lbeoug")
	v.SetDefault("defaultFromEmail", "Daftar Rabet <noreply@localhost>")
	v.SetDefault("frontendBaseURL", "http://localhost:5173")
	v.SetDefault("trialPeriod", 14*24*time.Hour)
	v.SetDefault("sendgridAPIKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugAddress", ":4000")
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:5173"})
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 15*time.Minute)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.passwordResetTimeoutDelta", 3*24*time.Hour)
	v.SetDefault("server.rateLimit.perSecond", 1.0)
	v.SetDefault("server.rateLimit.burst", 5)
	v.SetDefault("server.rateLimit.ttl", 10*time.Minute)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "daftarrabet")
	v.SetDefault("database.user", "daftarrabet")
	v.SetDefault("database.password", "daftarrabet")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", env == "DEV" || env == "TEST")
	v.SetDefault("database.maxOpenConns", 20)

	v.SetDefault("otp.length", 6)
	v.SetDefault("otp.ttl", 2*time.Minute)
	v.SetDefault("otp.maxAttempts", 5)

	v.SetDefault("sms.provider", "console")
	v.SetDefault("sms.apiKey", "")
	v.SetDefault("sms.sender", "")
	v.SetDefault("sms.baseURL", "https://api.kavenegar.com")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accessKey", "")
	v.SetDefault("storage.secretKey", "")
	v.SetDefault("storage.bucket", "daftarrabet")
	v.SetDefault("storage.useSSL", false)
	v.SetDefault("storage.urlExpiry", 15*time.Minute)

	v.SetDefault("ai.baseURL", "https://api.openai.com/v1")
	v.SetDefault("ai.apiKey", "")
	v.SetDefault("ai.model", "gpt-4o")
	v.SetDefault("ai.timeout", 60*time.Second)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample", 0.1)

	// DEV_SERVER_ADDRESS -> server.address
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:          v.GetString("appName"),
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		SecretKey:        v.GetString("secretKey"),
		DefaultFromEmail: v.GetString("defaultFromEmail"),
		FrontendBaseURL:  strings.TrimRight(v.GetString("frontendBaseURL"), "/"),
		WorkDir:          workDir,
		TrialPeriod:      v.GetDuration("trialPeriod"),
		SendgridAPIKey:   v.GetString("sendgridAPIKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Address:                   v.GetString("server.address"),
			DebugAddress:              v.GetString("server.debugAddress"),
			AllowedOrigins:            v.GetStringSlice("server.allowedOrigins"),
			TrustedProxies:            v.GetStringSlice("server.trustedProxies"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			PasswordResetTimeoutDelta: v.GetDuration("server.passwordResetTimeoutDelta"),
			RateLimit: RateLimitConfig{
				PerSecond: v.GetFloat64("server.rateLimit.perSecond"),
				Burst:     v.GetInt("server.rateLimit.burst"),
				TTL:       v.GetDuration("server.rateLimit.ttl"),
			},
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			MaxOpenConns:  v.GetInt("database.maxOpenConns"),
		},
		OTP: OTPConfig{
			Length:      v.GetInt("otp.length"),
			TTL:         v.GetDuration("otp.ttl"),
			MaxAttempts: v.GetInt("otp.maxAttempts"),
		},
		SMS: SMSConfig{
			Provider: v.GetString("sms.provider"),
			APIKey:   v.GetString("sms.apiKey"),
			Sender:   v.GetString("sms.sender"),
			BaseURL:  strings.TrimRight(v.GetString("sms.baseURL"), "/"),
		},
		Storage: StorageConfig{
			Endpoint:  v.GetString("storage.endpoint"),
			AccessKey: v.GetString("storage.accessKey"),
			SecretKey: v.GetString("storage.secretKey"),
			Bucket:    v.GetString("storage.bucket"),
			UseSSL:    v.GetBool("storage.useSSL"),
			URLExpiry: v.GetDuration("storage.urlExpiry"),
		},
		AI: AIConfig{
			BaseURL: strings.TrimRight(v.GetString("ai.baseURL"), "/"),
			APIKey:  v.GetString("ai.apiKey"),
			Model:   v.GetString("ai.model"),
			Timeout: v.GetDuration("ai.timeout"),
		},
		Tracing: TracingConfig{
			Enabled:  v.GetBool("tracing.enabled"),
			Endpoint: v.GetString("tracing.endpoint"),
			Insecure: v.GetBool("tracing.insecure"),
			Sample:   v.GetFloat64("tracing.sample"),
		},
	}
}

// NewTestConfig returns a Config suitable for unit tests, without touching the environment.
func NewTestConfig() *Config {
	return &Config{
		AppName:          "Daftar Rabet",
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		SecretKey:        "secret",
		DefaultFromEmail: "noreply@localhost",
		FrontendBaseURL:  "http://localhost:5173",
		TrialPeriod:      14 * 24 * time.Hour,
		Server: ServerConfig{
			Host:                      "localhost",
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
			PasswordResetTimeoutDelta: 3 * 24 * time.Hour,
			RateLimit:                 RateLimitConfig{PerSecond: 100, Burst: 100, TTL: time.Minute},
		},
		OTP: OTPConfig{Length: 6, TTL: 2 * time.Minute, MaxAttempts: 5},
		AI:  AIConfig{Model: "test-model", Timeout: 5 * time.Second},
	}
}

func (c *Config) String() string {
	return fmt.Sprintf("%s (%s, build %s)", c.AppName, c.Env, c.Build)
}
