package notify

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	alarms "agrisense-cloud/internal/alarms/domain"
)

// BuildAlertReportPDF renders alerts as a table.
func BuildAlertReportPDF(list []alarms.Alert, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Sensor Alert Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alerts: %d", len(list)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	headers := []struct {
		title string
		width float64
	}{
		{"Created", 42}, {"Device", 35}, {"Parameter", 30}, {"Value", 22},
		{"Min", 20}, {"Max", 20}, {"Severity", 22}, {"Sent", 15}, {"Message", 70},
	}
	for _, h := range headers {
		pdf.CellFormat(h.width, 6, h.title, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, alert := range list {
		sent := "no"
		if alert.IsSent {
			sent = "yes"
		}
		cells := []string{
			alert.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			alert.DeviceID,
			string(alert.Parameter),
			fmt.Sprintf("%.2f", alert.CurrentValue),
			optional(alert.ThresholdMin),
			optional(alert.ThresholdMax),
			string(alert.Severity),
			sent,
			alert.Message,
		}
		for i, cell := range cells {
			align := "L"
			if i >= 3 && i <= 5 {
				align = "R"
			}
			pdf.CellFormat(headers[i].width, 6, cell, "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
