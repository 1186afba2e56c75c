package notify

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
	"time"

	alarms "agrisense-cloud/internal/alarms/domain"
	masterdata "agrisense-cloud/internal/masterdata/domain"
)

const DefaultTemplate = `[Sensor Alert {{.Severity}}]
Device: {{.Device}}{{ if .Location }} ({{.Location}}){{ end }}
Parameter: {{.Parameter}}
Reading: {{.Value}}
Threshold: {{.Threshold}}
Detected: {{.CreatedAt}}
{{.Message}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Device    string
	DeviceID  string
	Location  string
	Parameter string
	Value     string
	Threshold string
	Severity  string
	Message   string
	CreatedAt string
}

// NewTemplateData flattens an alert and its device for rendering.
func NewTemplateData(alert alarms.Alert, device *masterdata.Device) TemplateData {
	data := TemplateData{
		Device:    alert.DeviceID,
		DeviceID:  alert.DeviceID,
		Parameter: alert.Parameter.Label(),
		Value:     fmt.Sprintf("%.2f", alert.CurrentValue),
		Threshold: formatBounds(alert.ThresholdMin, alert.ThresholdMax),
		Severity:  string(alert.Severity),
		Message:   alert.Message,
		CreatedAt: alert.CreatedAt.UTC().Format(time.RFC3339),
	}
	if device != nil {
		if device.Name != "" {
			data.Device = device.Name
		}
		data.Location = device.Location
	}
	return data
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func formatBounds(min, max *float64) string {
	switch {
	case min != nil && max != nil:
		return fmt.Sprintf("%.2f - %.2f", *min, *max)
	case min != nil:
		return fmt.Sprintf(">= %.2f", *min)
	case max != nil:
		return fmt.Sprintf("<= %.2f", *max)
	default:
		return "unbounded"
	}
}
