package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"workflowsweep/internal/engine"

	"go.uber.org/zap"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
)

var severityColors = map[Severity]string{
	SeverityError:   "#dc3545",
	SeverityWarning: "#ffc107",
	SeverityInfo:    "#17a2b8",
	SeveritySuccess: "#28a745",
}

// Color returns the attachment color for s, falling back to info.
func (s Severity) Color() string {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return severityColors[SeverityInfo]
}

type Template string

const (
	TemplateDetailed Template = "detailed"
	TemplateCompact  Template = "compact"
)

const (
	payloadHeader = "workflowsweep"
	footerText    = "workflowsweep"
	footerIcon    = "https://github.githubassets.com/images/modules/logos_page/GitHub-Mark.png"
)

// Summary is the notification content derived from a run.
type Summary struct {
	Title    string
	Message  string
	Severity Severity
	Fields   []Field
	RunURL   string
}

// Summarize picks the severity and text for res.
func Summarize(res *engine.Result) Summary {
	infected, success, failed := res.Counts()

	s := Summary{
		Fields: []Field{
			{Title: "Mode", Value: res.Mode(), Short: true},
			{Title: "Infected", Value: strconv.Itoa(infected), Short: true},
			{Title: "Remediated", Value: strconv.Itoa(success), Short: true},
			{Title: "Failed", Value: strconv.Itoa(failed), Short: true},
			{Title: "Workflows disabled", Value: strconv.Itoa(res.DisabledWorkflows), Short: true},
		},
	}

	switch {
	case infected == 0:
		s.Severity = SeveritySuccess
		s.Title = "No infected repositories found"
	case failed > 0:
		s.Severity = SeverityError
		s.Title = fmt.Sprintf("Found %d infected repositories, %d failed remediation", infected, failed)
	case res.ScanOnly || res.Interrupted:
		s.Severity = SeverityWarning
		s.Title = fmt.Sprintf("Found %d infected repositories", infected)
	default:
		s.Severity = SeveritySuccess
		s.Title = fmt.Sprintf("Remediated %d infected repositories", success)
	}

	var b strings.Builder
	b.WriteString("Scan finished.\n")
	fmt.Fprintf(&b, "Remediated: %d\nFailed: %d\nWorkflows disabled: %d", success, failed, res.DisabledWorkflows)
	if res.ScanOnly && infected > 0 {
		b.WriteString("\nScan-only mode: no changes were made.")
	}
	if res.Interrupted {
		b.WriteString("\nThe run was interrupted before every repository was processed.")
	}
	if infected > 0 {
		b.WriteString("\n\nReview the report and rotate exposed secrets now.")
	}
	s.Message = b.String()
	return s
}

// Payload is a Slack-compatible incoming webhook body.
type Payload struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
}

type Attachment struct {
	Color      string  `json:"color"`
	Title      string  `json:"title,omitempty"`
	TitleLink  string  `json:"title_link,omitempty"`
	Text       string  `json:"text"`
	Fields     []Field `json:"fields,omitempty"`
	Footer     string  `json:"footer,omitempty"`
	FooterIcon string  `json:"footer_icon,omitempty"`
	TS         int64   `json:"ts,omitempty"`
}

type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// BuildPayload renders s with tmpl. Unknown templates render as detailed.
func BuildPayload(s Summary, tmpl Template, now time.Time) Payload {
	if tmpl == TemplateCompact {
		return Payload{
			Text:        s.Title,
			Attachments: []Attachment{{Color: s.Severity.Color(), Text: s.Message}},
		}
	}
	return Payload{
		Text: payloadHeader,
		Attachments: []Attachment{{
			Color:      s.Severity.Color(),
			Title:      s.Title,
			TitleLink:  s.RunURL,
			Text:       s.Message,
			Fields:     s.Fields,
			Footer:     footerText,
			FooterIcon: footerIcon,
			TS:         now.Unix(),
		}},
	}
}

type Option func(*Notifier)

func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) {
		if c != nil {
			n.client = c
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// Notifier posts run summaries to a webhook.
type Notifier struct {
	url      string
	template Template
	client   *http.Client
	logger   *zap.Logger
	now      func() time.Time
}

func New(url string, tmpl Template, opts ...Option) *Notifier {
	n := &Notifier{
		url:      url,
		template: tmpl,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Send posts s. Any non-2xx response is an error.
func (n *Notifier) Send(ctx context.Context, s Summary) error {
	body, err := json.Marshal(BuildPayload(s, n.template, n.now()))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("send notification: webhook returned %s", resp.Status)
	}
	n.logger.Info("notification sent", zap.String("severity", string(s.Severity)), zap.String("template", string(n.template)))
	return nil
}
