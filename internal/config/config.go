// Package config содержит логику чтения конфигурации витрины подписок.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации витрины подписок.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL"`

	AuthSecret string `env:"AUTH_SECRET"`
	Currency   string `env:"CURRENCY" envDefault:"BRL"`

	MercadoPagoBaseURL       string `env:"MERCADOPAGO_BASE_URL" envDefault:"https://api.mercadopago.com"`
	MercadoPagoAccessToken   string `env:"MERCADOPAGO_ACCESS_TOKEN"`
	MercadoPagoWebhookSecret string `env:"MERCADOPAGO_WEBHOOK_SECRET"`

	DiscordBotToken     string `env:"DISCORD_BOT_TOKEN"`
	DiscordGuildID      string `env:"DISCORD_GUILD_ID"`
	DiscordClientID     string `env:"DISCORD_CLIENT_ID"`
	DiscordClientSecret string `env:"DISCORD_CLIENT_SECRET"`

	RedisURL           string `env:"REDIS_URL"`
	FulfillmentWorkers int    `env:"FULFILLMENT_WORKERS" envDefault:"2"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPublicBaseURL := cfg.PublicBaseURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PublicBaseURL, "b", "", "public base URL used in payment notification and OAuth callbacks")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPublicBaseURL != "" {
		cfg.PublicBaseURL = envPublicBaseURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://" + cfg.RunAddress
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	if cfg.FulfillmentWorkers <= 0 {
		cfg.FulfillmentWorkers = 1
	}

	return cfg, nil
}

// NotificationURL возвращает адрес, на который платёжный шлюз отправляет уведомления.
func (c *Config) NotificationURL() string {
	return c.PublicBaseURL + "/api/webhooks/mercadopago"
}

// OAuthCallbackURL возвращает адрес возврата после входа через Discord.
func (c *Config) OAuthCallbackURL() string {
	return c.PublicBaseURL + "/auth/discord/callback"
}
