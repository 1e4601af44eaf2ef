package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	analytics "moldwatch-cloud/internal/analytics/domain"
)

// BuildSiteReportPDF renders a site condition report as PDF.
func BuildSiteReportPDF(report *SiteReport) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("reports: nil report")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Site Condition Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Site: %s", report.SiteName))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s", report.From.Format(time.RFC3339), report.To.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Wake rounds: %d", len(report.Snapshots)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	// Aggregates table
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(45, 6, "Metric", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Mean", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Min", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Max", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Std Dev", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, metric := range analytics.AllMetrics {
		agg := report.Aggregates[metric]
		pdf.CellFormat(45, 6, metricLabel(metric), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, formatStat(agg.Mean), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, formatStat(agg.Min), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, formatStat(agg.Max), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, formatStat(agg.StdDev), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	// Events table
	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Change Events (%d)", len(report.Deltas)))
	pdf.Ln(7)
	pdf.CellFormat(40, 6, "Event", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Device", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Delta", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Wakes", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, event := range report.Deltas {
		pdf.CellFormat(40, 6, event.Type, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, event.DeviceID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, event.Severity, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, formatStat(event.Delta), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d-%d", event.FromWake, event.ToWake), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildSiteReportXLSX renders a site condition report as XLSX.
func BuildSiteReportXLSX(report *SiteReport) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("reports: nil report")
	}
	f := excelize.NewFile()
	summarySheet := "summary"
	readingsSheet := "readings"
	eventsSheet := "events"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(readingsSheet)
	f.NewSheet(eventsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Site Condition Report")
	_ = f.SetCellValue(summarySheet, "A3", "Site")
	_ = f.SetCellValue(summarySheet, "B3", report.SiteName)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", report.From.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", report.To.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Wake Rounds")
	_ = f.SetCellValue(summarySheet, "B6", len(report.Snapshots))
	_ = f.SetCellValue(summarySheet, "A7", "Generated")
	_ = f.SetCellValue(summarySheet, "B7", report.GeneratedAt.Format(time.RFC3339))

	_ = f.SetCellValue(summarySheet, "A9", "Metric")
	_ = f.SetCellValue(summarySheet, "B9", "Mean")
	_ = f.SetCellValue(summarySheet, "C9", "Min")
	_ = f.SetCellValue(summarySheet, "D9", "Max")
	_ = f.SetCellValue(summarySheet, "E9", "Std Dev")
	_ = f.SetCellValue(summarySheet, "F9", "Velocity Avg/h")
	for i, metric := range analytics.AllMetrics {
		row := i + 10
		agg := report.Aggregates[metric]
		velocity := report.Velocities[metric]
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), metricLabel(metric))
		setStatCell(f, summarySheet, fmt.Sprintf("B%d", row), agg.Mean)
		setStatCell(f, summarySheet, fmt.Sprintf("C%d", row), agg.Min)
		setStatCell(f, summarySheet, fmt.Sprintf("D%d", row), agg.Max)
		setStatCell(f, summarySheet, fmt.Sprintf("E%d", row), agg.StdDev)
		setStatCell(f, summarySheet, fmt.Sprintf("F%d", row), velocity.Avg)
	}

	_ = f.SetCellValue(readingsSheet, "A1", "Wake")
	_ = f.SetCellValue(readingsSheet, "B1", "Round Start")
	_ = f.SetCellValue(readingsSheet, "C1", "Device")
	_ = f.SetCellValue(readingsSheet, "D1", "Temperature")
	_ = f.SetCellValue(readingsSheet, "E1", "Humidity")
	_ = f.SetCellValue(readingsSheet, "F1", "Battery")
	_ = f.SetCellValue(readingsSheet, "G1", "Growth Score")
	_ = f.SetCellValue(readingsSheet, "H1", "Status")
	row := 2
	for _, snapshot := range report.Snapshots {
		if snapshot.Degraded {
			continue
		}
		for _, device := range snapshot.Devices {
			_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", row), snapshot.WakeNumber)
			_ = f.SetCellValue(readingsSheet, fmt.Sprintf("B%d", row), snapshot.WakeRoundStart.Format(time.RFC3339))
			_ = f.SetCellValue(readingsSheet, fmt.Sprintf("C%d", row), device.DeviceID)
			setStatCell(f, readingsSheet, fmt.Sprintf("D%d", row), device.TemperatureValue())
			setStatCell(f, readingsSheet, fmt.Sprintf("E%d", row), device.HumidityValue())
			setStatCell(f, readingsSheet, fmt.Sprintf("F%d", row), device.BatteryHealthPercent)
			setStatCell(f, readingsSheet, fmt.Sprintf("G%d", row), device.CompositeScore())
			_ = f.SetCellValue(readingsSheet, fmt.Sprintf("H%d", row), device.Status)
			row++
		}
	}

	_ = f.SetCellValue(eventsSheet, "A1", "Event")
	_ = f.SetCellValue(eventsSheet, "B1", "Device")
	_ = f.SetCellValue(eventsSheet, "C1", "Severity")
	_ = f.SetCellValue(eventsSheet, "D1", "Delta")
	_ = f.SetCellValue(eventsSheet, "E1", "From Wake")
	_ = f.SetCellValue(eventsSheet, "F1", "To Wake")
	_ = f.SetCellValue(eventsSheet, "G1", "Occurred")
	for i, event := range report.Deltas {
		r := i + 2
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("A%d", r), event.Type)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("B%d", r), event.DeviceID)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("C%d", r), event.Severity)
		setStatCell(f, eventsSheet, fmt.Sprintf("D%d", r), event.Delta)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("E%d", r), event.FromWake)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("F%d", r), event.ToWake)
		_ = f.SetCellValue(eventsSheet, fmt.Sprintf("G%d", r), event.OccurredAt.Format(time.RFC3339))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteSiteReportCSV streams per-device readings as CSV rows.
func WriteSiteReportCSV(w io.Writer, report *SiteReport) error {
	if report == nil {
		return fmt.Errorf("reports: nil report")
	}
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{
		"wake_number", "wake_round_start", "device_id",
		"temperature", "humidity", "battery", "growth_score", "status",
	}); err != nil {
		return err
	}
	for _, snapshot := range report.Snapshots {
		if snapshot.Degraded {
			continue
		}
		for _, device := range snapshot.Devices {
			record := []string{
				strconv.Itoa(snapshot.WakeNumber),
				snapshot.WakeRoundStart.UTC().Format(time.RFC3339),
				device.DeviceID,
				formatCSVValue(device.TemperatureValue()),
				formatCSVValue(device.HumidityValue()),
				formatCSVValue(device.BatteryHealthPercent),
				formatCSVValue(device.CompositeScore()),
				device.Status,
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatStat(value *float64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *value)
}

func formatCSVValue(value *float64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatFloat(*value, 'f', -1, 64)
}

func setStatCell(f *excelize.File, sheet, cell string, value *float64) {
	if value == nil {
		return
	}
	_ = f.SetCellValue(sheet, cell, *value)
}
