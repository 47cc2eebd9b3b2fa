package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// FeatureToggles — неизменяемый снимок фич процесса.
// Загружается один раз и передаётся в леджер при конструировании.
type FeatureToggles struct {
	// TopUnlimited включает подсчёт позиции в топе на каждый рост.
	// В очень больших чатах это выключают ради экономии запросов.
	TopUnlimited bool `envconfig:"TOP_UNLIMITED" default:"true"`
}

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		Token      string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL string `envconfig:"TG_WEBHOOK_URL"`
	} `envconfig:""`

	PGDSN      string `envconfig:"PG_DSN"`
	PGMaxConns int32  `envconfig:"PG_MAX_CONNS" default:"10"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`

	Game struct {
		GrowthMin       int     `envconfig:"GROWTH_MIN" default:"-5"`
		GrowthMax       int     `envconfig:"GROWTH_MAX" default:"10"`
		TopPageSize     int     `envconfig:"TOP_PAGE_SIZE" default:"10"`
		DodBonusMax     int     `envconfig:"DOD_BONUS_MAX" default:"5"`
		PvpMaxStake     int     `envconfig:"PVP_MAX_STAKE" default:"20"`
		LoanMax         int     `envconfig:"LOAN_MAX" default:"50"`
		LoanPayoutRatio float64 `envconfig:"LOAN_PAYOUT_RATIO" default:"0.5"`
	} `envconfig:""`

	Features FeatureToggles `envconfig:""`

	Queues struct {
		Dod string `envconfig:"DOD_QUEUE_KEY" default:"dod_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
