package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type WebhookType string

const (
	WebhookDiscord WebhookType = "discord"
	WebhookSlack   WebhookType = "slack"
	WebhookGeneric WebhookType = "generic"
)

// RunOptions summarizes a finished generation run.
type RunOptions struct {
	RunID        string
	WebhookURL   string
	Backend      string
	Model        string
	OutputDir    string
	Stored       int
	Failed       int
	Skipped      int
	FailedFields []string
	Duration     time.Duration
	Timeout      time.Duration
}

func (o RunOptions) succeeded() bool {
	return o.Failed == 0 && o.Skipped == 0
}

func DetectWebhookType(url string) WebhookType {
	lower := strings.ToLower(url)
	if strings.Contains(lower, "discord.com/api/webhooks") || strings.Contains(lower, "discordapp.com/api/webhooks") {
		return WebhookDiscord
	}
	if strings.Contains(lower, "hooks.slack.com") {
		return WebhookSlack
	}
	return WebhookGeneric
}

// NotifyRun posts the run summary to the webhook.
func NotifyRun(ctx context.Context, opts RunOptions) error {
	if strings.TrimSpace(opts.WebhookURL) == "" {
		return errors.New("webhook URL is required")
	}
	payload, err := buildRunPayload(opts, time.Now())
	if err != nil {
		return err
	}
	return SendWebhook(ctx, opts.WebhookURL, payload, opts.Timeout)
}

func SendWebhook(ctx context.Context, url string, payload []byte, timeout time.Duration) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("webhook URL is required")
	}
	if len(payload) == 0 {
		return errors.New("payload is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func buildRunPayload(opts RunOptions, now time.Time) ([]byte, error) {
	outputDir := defaultString(opts.OutputDir, "unknown")
	backend := defaultString(opts.Backend, "unknown")
	model := defaultString(opts.Model, "unknown")
	duration := formatDuration(opts.Duration)
	timestamp := now.Format(time.RFC3339)
	failed := "none"
	if len(opts.FailedFields) > 0 {
		failed = strings.Join(opts.FailedFields, ", ")
	}

	title := "✅ Ontologies Generated"
	color := 5763719
	slackColor := "#57F287"
	if !opts.succeeded() {
		title = "⚠️ Ontologies Partially Generated"
		color = 16705372
		slackColor = "#FEE75C"
	}
	summary := fmt.Sprintf("%s/%s stored %d, failed %d, skipped %d", backend, model, opts.Stored, opts.Failed, opts.Skipped)

	switch DetectWebhookType(opts.WebhookURL) {
	case WebhookDiscord:
		fields := []map[string]interface{}{
			{"name": "Output", "value": fmt.Sprintf("`%s`", outputDir), "inline": false},
			{"name": "Stored", "value": strconv.Itoa(opts.Stored), "inline": true},
			{"name": "Failed", "value": strconv.Itoa(opts.Failed), "inline": true},
			{"name": "Duration", "value": duration, "inline": true},
		}
		if !opts.succeeded() {
			fields = append(fields, map[string]interface{}{"name": "Failed Fields", "value": failed, "inline": false})
		}
		payload := map[string]interface{}{
			"embeds": []map[string]interface{}{
				{
					"title":       title,
					"description": fmt.Sprintf("Run **%s**: %s", shortID(opts.RunID), summary),
					"color":       color,
					"fields":      fields,
					"footer":      map[string]interface{}{"text": "ontogen"},
					"timestamp":   timestamp,
				},
			},
		}
		return json.Marshal(payload)
	case WebhookSlack:
		fields := []map[string]interface{}{
			{"type": "mrkdwn", "text": fmt.Sprintf("*Output:*\n`%s`", outputDir)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Stored:*\n%d", opts.Stored)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Failed:*\n%d", opts.Failed)},
			{"type": "mrkdwn", "text": fmt.Sprintf("*Duration:*\n%s", duration)},
		}
		if !opts.succeeded() {
			fields = append(fields, map[string]interface{}{"type": "mrkdwn", "text": fmt.Sprintf("*Failed Fields:*\n%s", failed)})
		}
		payload := map[string]interface{}{
			"attachments": []map[string]interface{}{
				{
					"color": slackColor,
					"blocks": []map[string]interface{}{
						{
							"type": "header",
							"text": map[string]interface{}{"type": "plain_text", "text": title, "emoji": true},
						},
						{
							"type": "section",
							"text": map[string]interface{}{"type": "mrkdwn", "text": fmt.Sprintf("Run *%s*: %s", shortID(opts.RunID), summary)},
						},
						{
							"type":   "section",
							"fields": fields,
						},
						{
							"type": "context",
							"elements": []map[string]interface{}{
								{"type": "mrkdwn", "text": fmt.Sprintf("ontogen • %s", timestamp)},
							},
						},
					},
				},
			},
		}
		return json.Marshal(payload)
	default:
		status := "success"
		if !opts.succeeded() {
			status = "partial"
		}
		payload := map[string]interface{}{
			"event":         "run_finished",
			"status":        status,
			"run_id":        opts.RunID,
			"backend":       backend,
			"model":         model,
			"output_dir":    outputDir,
			"stored":        opts.Stored,
			"failed":        opts.Failed,
			"skipped":       opts.Skipped,
			"failed_fields": opts.FailedFields,
			"duration":      duration,
			"timestamp":     timestamp,
			"message":       fmt.Sprintf("ontogen run %s finished: %s (%s)", shortID(opts.RunID), summary, duration),
		}
		return json.Marshal(payload)
	}
}

func formatDuration(duration time.Duration) string {
	if duration <= 0 {
		return "unknown"
	}
	total := int(duration.Seconds())
	if total <= 0 {
		return "<1s"
	}
	hours := total / 3600
	mins := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

func shortID(runID string) string {
	runID = defaultString(runID, "unknown")
	if len(runID) > 8 {
		return runID[:8]
	}
	return runID
}

func defaultString(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
