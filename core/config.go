package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		Port                      int
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		ShutdownTimeout           time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Name          string
		Host          string
		Port          int
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	// VerificationConfig holds the routing thresholds applied to automated
	// document verification results. The numbers are policy, not invariants.
	VerificationConfig struct {
		AutoRejectBelow int  // below this confidence the request is rejected without human review
		NotifyBelow     int  // below this the student is told manual review is required
		FastTrackAbove  int  // at or above this the teacher stage may be auto-approved
		FastTrack       bool // the fast-track hook is off unless explicitly enabled
		Timeout         time.Duration
	}

	AnchorConfig struct {
		Enabled bool
		Timeout time.Duration
	}

	Config struct {
		Env      string
		Debug    bool
		TestMode bool

		AppName          string
		SecretKey        string
		FrontendBaseURL  string
		DefaultFromEmail string
		WorkDir          string
		UploadDir        string
		Build            string

		SendgridAPIKey   string
		RollbarToken     string
		TelegramBotToken string
		GenAIAPIKey      string
		GenAIModel       string

		Server       ServerConfig
		Database     DatabaseConfig
		Verification VerificationConfig
		Anchor       AnchorConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoadConfig builds the app configuration from defaults, an optional
// config/.env.<env> file and ENV-prefixed environment variables.
func LoadConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("appName", "Elimu")
	v.SetDefault("secretKey", "x2m&9b)wq$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("uploadDir", "uploads")
	v.SetDefault("serverHost", "0.0.0.0")
	v.SetDefault("serverPort", 8000)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)
	v.SetDefault("shutdownTimeout", 20*time.Second)
	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbName", "")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", 5432)
	v.SetDefault("dbUser", "")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)
	v.SetDefault("genAIModel", "gemini-2.0-flash")
	v.SetDefault("verificationAutoRejectBelow", 30)
	v.SetDefault("verificationNotifyBelow", 50)
	v.SetDefault("verificationFastTrackAbove", 90)
	v.SetDefault("verificationFastTrack", false)
	v.SetDefault("verificationTimeout", 30*time.Second)
	v.SetDefault("anchorEnabled", true)
	v.SetDefault("anchorTimeout", 10*time.Second)

	env := os.Getenv("ENV") // DEV (local; default), TEST, QA, PROD
	testMode := false
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		testMode = true
	}
	v.SetEnvPrefix(env)

	// load config/.env.<env> if it exists (ignore if it does not)
	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err = godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:              env,
		Debug:            v.GetBool("debug"),
		TestMode:         testMode,
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		DefaultFromEmail: v.GetString("defaultFromEmail"),
		WorkDir:          wd,
		UploadDir:        filepath.Join(wd, v.GetString("uploadDir")),
		Build:            v.GetString("build"),
		SendgridAPIKey:   v.GetString("sendgridAPIKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		TelegramBotToken: v.GetString("telegramBotToken"),
		GenAIAPIKey:      v.GetString("genAIAPIKey"),
		GenAIModel:       v.GetString("genAIModel"),
		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			Port:                      v.GetInt("serverPort"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
			ShutdownTimeout:           v.GetDuration("shutdownTimeout"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Name:          v.GetString("dbName"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetInt("dbPort"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Verification: VerificationConfig{
			AutoRejectBelow: v.GetInt("verificationAutoRejectBelow"),
			NotifyBelow:     v.GetInt("verificationNotifyBelow"),
			FastTrackAbove:  v.GetInt("verificationFastTrackAbove"),
			FastTrack:       v.GetBool("verificationFastTrack"),
			Timeout:         v.GetDuration("verificationTimeout"),
		},
		Anchor: AnchorConfig{
			Enabled: v.GetBool("anchorEnabled"),
			Timeout: v.GetDuration("anchorTimeout"),
		},
	}
}
