package notify

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// WebhookURL receives every engine failure alert. Empty disables the
	// global channel; per-project alert URLs still fire.
	WebhookURL string        `envconfig:"ALERT_WEBHOOK_URL" default:""`
	Timeout    time.Duration `envconfig:"ALERT_TIMEOUT" default:"5s"`
	RetryCount int           `envconfig:"ALERT_RETRY_COUNT" default:"2"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
