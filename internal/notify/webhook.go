package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// WebhookNotifier posts a text message to a chat webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookNotifier constructs a notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends the run summary.
func (n *WebhookNotifier) Notify(ctx context.Context, msg RunSummary) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: formatRunSummary(msg)},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}

func formatRunSummary(msg RunSummary) string {
	var b strings.Builder
	switch {
	case msg.Aborted:
		b.WriteString("[Forecast Run Aborted]\n")
	case msg.OK():
		b.WriteString("[Forecast Run OK]\n")
	default:
		b.WriteString("[Forecast Run Failed]\n")
	}
	fmt.Fprintf(&b, "Run: %s\n", msg.RunID)
	if msg.DryRun {
		b.WriteString("Mode: dry run\n")
	}
	fmt.Fprintf(&b, "Dates: %d succeeded, %d failed\n", msg.Succeeded, msg.Failed)
	fmt.Fprintf(&b, "Accepted records: %d\n", msg.AcceptedTotal)
	if len(msg.FailedDates) > 0 {
		days := make([]string, 0, len(msg.FailedDates))
		for day := range msg.FailedDates {
			days = append(days, day)
		}
		sort.Strings(days)
		for _, day := range days {
			fmt.Fprintf(&b, "  %s: %s\n", day, msg.FailedDates[day])
		}
	}
	if msg.ReportPath != "" {
		fmt.Fprintf(&b, "Report: %s\n", msg.ReportPath)
	}
	return strings.TrimSpace(b.String())
}
