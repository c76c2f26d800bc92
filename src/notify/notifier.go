package notify

import (
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// Notifier delivers engine failure alerts over HTTP webhooks. Delivery is
// best-effort and asynchronous: a down webhook must never slow down or
// fail a supervisor scan.
type Notifier struct {
	client *resty.Client
	cfg    *Config
}

func NewNotifier(cfg *Config) *Notifier {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Notifier{client: client, cfg: cfg}
}

type failurePayload struct {
	Kind        string `json:"kind"`
	ProjectID   int64  `json:"project_id"`
	ProjectName string `json:"project_name"`
	Reason      string `json:"reason"`
	OccurredAt  string `json:"occurred_at"`
}

// EngineFailure fans the alert out to the global webhook plus the
// project's own alert URLs. Satisfies engine.Alerter.
func (n *Notifier) EngineFailure(projectID int64, name, reason string, extraURLs []string) {
	payload := failurePayload{
		Kind:        "engine_failure",
		ProjectID:   projectID,
		ProjectName: name,
		Reason:      reason,
		OccurredAt:  time.Now().UTC().Format(time.RFC3339),
	}

	urls := make([]string, 0, len(extraURLs)+1)
	if n.cfg.WebhookURL != "" {
		urls = append(urls, n.cfg.WebhookURL)
	}
	urls = append(urls, extraURLs...)

	for _, url := range urls {
		go n.post(url, payload)
	}
}

func (n *Notifier) post(url string, payload failurePayload) {
	resp, err := n.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(url)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"url":        url,
			"project_id": payload.ProjectID,
		}).WithError(err).Warn("alert webhook delivery failed")
		return
	}
	if resp.IsError() {
		logger.WithFields(map[string]interface{}{
			"url":        url,
			"status":     resp.StatusCode(),
			"project_id": payload.ProjectID,
		}).Warn("alert webhook returned error status")
	}
}
