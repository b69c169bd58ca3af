package config

import (
	"log"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Esim struct {
		BaseURL    string `yaml:"base_url"`
		AccessCode string `yaml:"access_code"`
		SecretKey  string `yaml:"secret_key"`
	} `yaml:"esim"`
	Telegram struct {
		BotToken       string `yaml:"bot_token"`
		ProviderToken  string `yaml:"provider_token"`
		WebAppURL      string `yaml:"webapp_url"`
		SupportBotURL  string `yaml:"support_bot_url"`
		NewsChannelURL string `yaml:"news_channel_url"`
		OperatorChatID int64  `yaml:"operator_chat_id"`
		RubPerUSD      int64  `yaml:"rub_per_usd"`
		StarsPerUSD    int64  `yaml:"stars_per_usd"`
	} `yaml:"telegram"`
	CryptoPay struct {
		Token   string `yaml:"token"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"cryptopay"`
	OpenAI struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`
	S3 struct {
		Enabled   bool   `yaml:"enabled"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		Bucket    string `yaml:"bucket"`
	} `yaml:"s3"`
	Auth struct {
		SigningKey string `yaml:"signing_key"`
	} `yaml:"auth"`
}

func LoadConfig() Config {
	var cfg Config

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		log.Fatalf("Failed to unmarshal config data: %v", err)
	}

	// Secrets come from the environment when present.
	overrideEnv(&cfg.Database.URL, "DATABASE_URL")
	overrideEnv(&cfg.Esim.AccessCode, "ESIM_ACCESS_CODE")
	overrideEnv(&cfg.Esim.SecretKey, "ESIM_SECRET_KEY")
	overrideEnv(&cfg.Telegram.BotToken, "BOT_TOKEN")
	overrideEnv(&cfg.Telegram.ProviderToken, "PAYMENT_PROVIDER_TOKEN")
	overrideEnv(&cfg.CryptoPay.Token, "CRYPTOPAY_TOKEN")
	overrideEnv(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	overrideEnv(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	overrideEnv(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	overrideEnv(&cfg.Auth.SigningKey, "JWT_SIGNING_KEY")

	return cfg
}

func overrideEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
