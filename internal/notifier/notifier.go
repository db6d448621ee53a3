/*
Copyright 2026 Volume Autoscaler Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package notifier posts a best-effort chat message to a Slack incoming
// webhook on resize events. A failed send is logged and never retried or
// escalated — notification is observability, not part of the control loop.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

// Severity selects the icon emoji and, for "error", the `<!channel>` prefix.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityOK      Severity = "ok"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityUnknown Severity = "unknown"
)

const defaultIconURL = "https://raw.githubusercontent.com/devops-nirvana/volume-autoscaler/master/icon.png"
const defaultUsername = "Kubernetes Volume Autoscaler"

// Notifier posts formatted messages to a Slack incoming webhook.
type Notifier struct {
	webhookURL string
	channel    string
	prefix     string
	suffix     string
	disabled   bool
	httpClient *http.Client
	logger     *slog.Logger
}

// New builds a Notifier. It is disabled (Send becomes a silent no-op) when
// webhookURL is empty or dryRun is true — sending chat notifications about
// a resize that never happened would be misleading.
func New(logger *slog.Logger, webhookURL, channel, prefix, suffix string, dryRun bool) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		channel:    channel,
		prefix:     prefix,
		suffix:     suffix,
		disabled:   webhookURL == "" || dryRun,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type payload struct {
	Username   string `json:"username"`
	Text       string `json:"text"`
	LinkNames  int    `json:"link_names"`
	Channel    string `json:"channel,omitempty"`
	IconEmoji  string `json:"icon_emoji,omitempty"`
	IconURL    string `json:"icon_url,omitempty"`
}

func emojiForSeverity(severity Severity) string {
	switch severity {
	case SeverityInfo:
		return ":information_source:"
	case SeverityUnknown:
		return ":question:"
	case SeverityWarning:
		return ":warning:"
	case SeverityError:
		return ":exclamation:"
	default:
		return ":white_check_mark:"
	}
}

// Send posts body to the configured webhook. Non-2xx responses and
// transport errors are logged and swallowed; Send never returns an error
// because nothing in the reconciler should ever block on it.
func (n *Notifier) Send(ctx context.Context, body string, severity Severity) {
	if n.disabled {
		return
	}

	text := strings.TrimSpace(n.prefix + " " + body + " " + n.suffix)
	if severity == SeverityError {
		text = "<!channel> ERROR: " + text
	}

	p := payload{
		Username:  fmt.Sprintf("%s - %s", defaultUsername, titleCaser.String(string(severity))),
		Text:      text,
		LinkNames: 1,
		Channel:   n.channel,
		IconEmoji: emojiForSeverity(severity),
	}
	if p.IconEmoji == "" {
		p.IconURL = defaultIconURL
	}

	raw, err := json.Marshal(p)
	if err != nil {
		n.logger.Warn("failed to encode slack payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(raw))
	if err != nil {
		n.logger.Warn("failed to build slack request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("slack notification failed", "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		n.logger.Warn("slack webhook returned non-2xx status", "status", resp.StatusCode)
	}
}
