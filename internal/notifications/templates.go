package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	textTemplate "text/template"
	"time"

	"github.com/NikhilSetiya/fleetwatch/pkg/alerting"
)

// Formats understood by the template manager
const (
	FormatHTML = "html"
	FormatText = "text"
)

// Message is a rendered alert notification
type Message struct {
	Subject  string
	Body     string
	Format   string
	Metadata map[string]interface{}
}

// TemplateManager renders alerts into human readable notifications
type TemplateManager struct {
	textTemplates map[string]*textTemplate.Template
	htmlTemplates map[string]*template.Template
}

// NewTemplateManager creates a template manager with the default alert templates
func NewTemplateManager() *TemplateManager {
	tm := &TemplateManager{
		textTemplates: make(map[string]*textTemplate.Template),
		htmlTemplates: make(map[string]*template.Template),
	}

	tm.loadDefaultTemplates()
	return tm
}

type contextField struct {
	Key   string
	Value string
}

// RenderAlert renders an alert for the given service in the requested format
func (tm *TemplateManager) RenderAlert(alert *alerting.Alert, serviceName, format string) (Message, error) {
	if alert == nil {
		return Message{}, fmt.Errorf("alert is nil")
	}

	data := map[string]interface{}{
		"AlertID":     alert.ID,
		"RuleID":      alert.RuleID,
		"Type":        alert.Type,
		"Severity":    alert.Severity.Upper(),
		"Color":       SeverityColor(alert.Severity),
		"Message":     alert.Message,
		"ServiceName": serviceName,
		"Timestamp":   alert.Timestamp.UTC().Format(time.RFC3339),
		"Context":     sortedContext(alert.Context),
	}

	subject, body, err := tm.renderTemplate("alert", format, data)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject: subject,
		Body:    body,
		Format:  format,
		Metadata: map[string]interface{}{
			"alert_id": alert.ID,
			"rule_id":  alert.RuleID,
			"severity": string(alert.Severity),
			"service":  serviceName,
		},
	}, nil
}

// SeverityColor is the accent colour used for a severity in rich channels
func SeverityColor(severity alerting.Severity) string {
	switch severity {
	case alerting.SeverityInfo:
		return "#36a64f"
	case alerting.SeverityWarning:
		return "#ffa500"
	case alerting.SeverityError:
		return "#ff6b6b"
	case alerting.SeverityCritical:
		return "#ff0000"
	default:
		return "#808080"
	}
}

// renderTemplate renders a template with the given data
func (tm *TemplateManager) renderTemplate(templateName, format string, data map[string]interface{}) (string, string, error) {
	var subjectBuf, bodyBuf bytes.Buffer

	// subjects are plain text in every format
	subjectTemplate, exists := tm.textTemplates[templateName+"_subject"]
	if !exists {
		return "", "", fmt.Errorf("subject template not found: %s", templateName)
	}
	if err := subjectTemplate.Execute(&subjectBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute subject template: %w", err)
	}

	switch format {
	case FormatHTML:
		bodyTemplate, exists := tm.htmlTemplates[templateName+"_body"]
		if !exists {
			return "", "", fmt.Errorf("HTML body template not found: %s", templateName)
		}
		if err := bodyTemplate.Execute(&bodyBuf, data); err != nil {
			return "", "", fmt.Errorf("failed to execute HTML body template: %w", err)
		}

	case FormatText:
		bodyTemplate, exists := tm.textTemplates[templateName+"_body"]
		if !exists {
			return "", "", fmt.Errorf("text body template not found: %s", templateName)
		}
		if err := bodyTemplate.Execute(&bodyBuf, data); err != nil {
			return "", "", fmt.Errorf("failed to execute text body template: %w", err)
		}

	default:
		return "", "", fmt.Errorf("unsupported format: %s", format)
	}

	return strings.TrimSpace(subjectBuf.String()), bodyBuf.String(), nil
}

// loadDefaultTemplates loads the default alert templates
func (tm *TemplateManager) loadDefaultTemplates() {
	tm.textTemplates["alert_subject"] = textTemplate.Must(textTemplate.New("alert_subject").Parse(
		"[{{.Severity}}] {{.Type}} - {{.ServiceName}}",
	))

	tm.textTemplates["alert_body"] = textTemplate.Must(textTemplate.New("alert_body").Parse(
		`{{.Severity}} alert on {{.ServiceName}}

{{.Message}}

Rule: {{.RuleID}}
Alert ID: {{.AlertID}}
Time: {{.Timestamp}}
{{range .Context}}
{{.Key}}: {{.Value}}{{end}}
`,
	))

	tm.htmlTemplates["alert_body"] = template.Must(template.New("alert_body").Parse(
		`<h2 style="color: {{.Color}};">{{.Severity}}: {{.Type}}</h2>

<p>{{.Message}}</p>

<table style="border-collapse: collapse; width: 100%;">
<tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Service:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{.ServiceName}}</td></tr>
<tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Rule:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{.RuleID}}</td></tr>
<tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Alert ID:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{.AlertID}}</td></tr>
<tr><td style="padding: 8px; border: 1px solid #ddd;"><strong>Time:</strong></td><td style="padding: 8px; border: 1px solid #ddd;">{{.Timestamp}}</td></tr>
</table>
{{if .Context}}
<h3>Context</h3>
<ul>
{{range .Context}}<li><strong>{{.Key}}:</strong> {{.Value}}</li>
{{end}}</ul>
{{end}}`,
	))
}

func sortedContext(ctx alerting.Context) []contextField {
	fields := make([]contextField, 0, len(ctx))
	for key, value := range ctx {
		fields = append(fields, contextField{Key: key, Value: formatValue(value)})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Key < fields[j].Key })
	return fields
}

func formatValue(value interface{}) string {
	switch v := value.(type) {
	case float64:
		return fmt.Sprintf("%.2f", v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case time.Duration:
		return formatDuration(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
