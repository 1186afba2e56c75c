package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	analytics "agrisense-cloud/internal/analytics/domain"
	telemetry "agrisense-cloud/internal/telemetry/domain"
)

// BuildHistoryXLSX renders a history series as a workbook with a summary
// sheet and one row per reading.
func BuildHistoryXLSX(deviceID string, window analytics.Window, readings []telemetry.SensorReading) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	readingsSheet := "readings"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(readingsSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Sensor History")
	_ = f.SetCellValue(summarySheet, "A3", "Device")
	_ = f.SetCellValue(summarySheet, "B3", deviceID)
	_ = f.SetCellValue(summarySheet, "A4", "Window")
	_ = f.SetCellValue(summarySheet, "B4", string(window))
	_ = f.SetCellValue(summarySheet, "A5", "Points")
	_ = f.SetCellValue(summarySheet, "B5", len(readings))

	params := telemetry.Parameters()
	_ = f.SetCellValue(readingsSheet, "A1", "Timestamp")
	for i, p := range params {
		cell, err := excelize.CoordinatesToCellName(i+2, 1)
		if err != nil {
			return nil, err
		}
		_ = f.SetCellValue(readingsSheet, cell, string(p))
	}
	for i, reading := range readings {
		row := i + 2
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", row), reading.Timestamp.UTC().Format(time.RFC3339))
		for j, p := range params {
			cell, err := excelize.CoordinatesToCellName(j+2, row)
			if err != nil {
				return nil, err
			}
			v, _ := reading.Value(p)
			_ = f.SetCellValue(readingsSheet, cell, v)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
