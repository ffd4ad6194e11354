package interfaces

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alarms "engineroom-ess/internal/alarms/domain"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// BuildAlarmExport renders records in the requested format and returns the
// payload with its content type.
func BuildAlarmExport(format string, records []alarms.Record) ([]byte, string, error) {
	switch format {
	case "", FormatCSV:
		data, err := BuildAlarmCSV(records)
		return data, "text/csv", err
	case FormatXLSX:
		data, err := BuildAlarmXLSX(records)
		return data, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", err
	case FormatPDF:
		data, err := BuildAlarmPDF(records)
		return data, "application/pdf", err
	default:
		return nil, "", fmt.Errorf("alarms export: unknown format %q", format)
	}
}

// BuildAlarmCSV renders records in the journal row format.
func BuildAlarmCSV(records []alarms.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"timestamp", "sensor_id", "alarm_type", "sensor_value", "threshold", "status", "ack_timestamp"}); err != nil {
		return nil, err
	}
	for _, rec := range records {
		ack := ""
		if !rec.AckedAt.IsZero() {
			ack = rec.AckedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			rec.RaisedAt.UTC().Format(time.RFC3339),
			rec.SensorID,
			rec.Type,
			strconv.FormatFloat(rec.Value, 'f', -1, 64),
			strconv.FormatFloat(rec.Threshold, 'f', -1, 64),
			rec.Status,
			ack,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlarmXLSX renders a minimal XLSX alarm history sheet.
func BuildAlarmXLSX(records []alarms.Record) ([]byte, error) {
	f := excelize.NewFile()
	sheet := "alarms"
	f.SetSheetName("Sheet1", sheet)

	headers := []string{"Timestamp", "Sensor", "Type", "Value", "Threshold", "Status", "Acknowledged At"}
	for i, title := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, title)
	}
	for i, rec := range records {
		row := i + 2
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), rec.RaisedAt.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), rec.SensorID)
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), rec.Type)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), rec.Value)
		_ = f.SetCellValue(sheet, fmt.Sprintf("E%d", row), rec.Threshold)
		_ = f.SetCellValue(sheet, fmt.Sprintf("F%d", row), rec.Status)
		if !rec.AckedAt.IsZero() {
			_ = f.SetCellValue(sheet, fmt.Sprintf("G%d", row), rec.AckedAt.UTC().Format(time.RFC3339))
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlarmPDF renders a minimal PDF alarm history table.
func BuildAlarmPDF(records []alarms.Record) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alarm History")
	pdf.Ln(10)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(45, 6, "Timestamp", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Sensor", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Threshold", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(45, 6, "Acknowledged", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, rec := range records {
		ack := ""
		if !rec.AckedAt.IsZero() {
			ack = rec.AckedAt.UTC().Format(time.RFC3339)
		}
		pdf.CellFormat(45, 6, rec.RaisedAt.UTC().Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, rec.SensorID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(20, 6, rec.Type, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", rec.Value), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", rec.Threshold), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, rec.Status, "1", 0, "C", false, 0, "")
		pdf.CellFormat(45, 6, ack, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
