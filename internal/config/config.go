package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	TelegramToken    string        `mapstructure:"telegram_token"`
	AdminTgID        int64         `mapstructure:"admin_tg_id"`
	BotHandleTimeout time.Duration `mapstructure:"bot_handle_timeout"`

	PostgresDSN string `mapstructure:"postgres_dsn"`

	WebListenAddr  string `mapstructure:"web_listen_addr"`
	SessionSecret  string `mapstructure:"session_secret"`
	AdminUsername  string `mapstructure:"admin_username"`
	AdminPassword  string `mapstructure:"admin_password"`
	MiniAppBaseURL string `mapstructure:"miniapp_base_url"`

	InitDataMaxAge  time.Duration `mapstructure:"init_data_max_age"`
	DispatchTimeout time.Duration `mapstructure:"dispatch_timeout"`

	SkillTags []string `mapstructure:"skill_tags"`

	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitPeriod   time.Duration `mapstructure:"rate_limit_period"`

	CacheTTLUserProfile time.Duration `mapstructure:"cache_ttl_user_profile"`

	AllowedDocExtensions   []string `mapstructure:"allowed_doc_extensions"`
	AllowedDocMimePrefixes []string `mapstructure:"allowed_doc_mime_prefixes"`
	MaxDocumentSizeMB      int64    `mapstructure:"max_document_size_mb"`
}

// MaxDocumentSize is the attachment size bound in bytes.
func (c *Config) MaxDocumentSize() int64 {
	return c.MaxDocumentSizeMB * 1024 * 1024
}

func New() *Config {
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		logrus.Fatalf("unmarshalling config: %v", err)
	}
	return cfg
}

func SetupCommon() {
	viper.SetDefault("bot_handle_timeout", "10s")
	viper.SetDefault("web_listen_addr", ":8080")
	viper.SetDefault("admin_username", "admin")
	viper.SetDefault("miniapp_base_url", "http://localhost:8080")
	viper.SetDefault("init_data_max_age", "24h")
	viper.SetDefault("dispatch_timeout", "30s")
	viper.SetDefault("rate_limit_requests", 10)
	viper.SetDefault("rate_limit_period", "1m")
	viper.SetDefault("cache_ttl_user_profile", "5m")
	viper.SetDefault("allowed_doc_extensions", []string{".pdf", ".jpg", ".jpeg", ".png"})
	viper.SetDefault("allowed_doc_mime_prefixes", []string{"application/pdf", "image/jpeg", "image/png"})
	viper.SetDefault("max_document_size_mb", 20)
	viper.SetDefault("skill_tags", []string{
		"СКУД",
		"Видеонаблюдение",
		"АПС",
		"Электромонтаж",
		"Слаботочные системы",
		"Сетевое оборудование",
	})

	viper.SetEnvPrefix("TENDERBOT")

	viper.MustBindEnv("telegram_token")
	viper.MustBindEnv("admin_tg_id")
	viper.MustBindEnv("postgres_dsn")
	viper.AutomaticEnv()
}
