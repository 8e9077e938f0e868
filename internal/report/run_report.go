package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	forecast "forecast-sender/internal/forecast/domain"
	pipeline "forecast-sender/internal/pipeline/application"
)

// turkishFold maps letters outside cp1252 to ASCII so the core PDF fonts can draw them.
var turkishFold = strings.NewReplacer(
	"İ", "I", "ı", "i",
	"Ğ", "G", "ğ", "g",
	"Ş", "S", "ş", "s",
)

// pdfText prepares text for the built-in cp1252 fonts.
func pdfText(tr func(string) string, s string) string {
	return tr(turkishFold.Replace(s))
}

func dateStatus(d pipeline.DateResult) string {
	if d.Success {
		return "success"
	}
	return "failed"
}

func failedStep(d pipeline.DateResult) string {
	if d.Success || d.FailedAt == "" {
		return ""
	}
	return string(d.FailedAt)
}

// BuildRunPDF renders a one-page summary of a pipeline run.
func BuildRunPDF(run pipeline.RunResult) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Consumption Forecast Submission Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Run: %s", run.RunID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Started: %s", run.StartedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Finished: %s", run.FinishedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	if run.DryRun {
		pdf.Cell(0, 6, "Mode: dry run")
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Dates: %d succeeded, %d failed", run.Succeeded, run.Failed))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Accepted records: %d", run.AcceptedTotal()))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(28, 6, "Date", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(26, 6, "Failed at", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Accepted", "1", 0, "C", false, 0, "")
	pdf.CellFormat(92, 6, "Message", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, d := range run.Dates {
		pdf.CellFormat(28, 6, d.Date.Format(forecast.DayLayout), "1", 0, "C", false, 0, "")
		pdf.CellFormat(22, 6, dateStatus(d), "1", 0, "C", false, 0, "")
		pdf.CellFormat(26, 6, failedStep(d), "1", 0, "C", false, 0, "")
		pdf.CellFormat(22, 6, fmt.Sprintf("%d", d.AcceptedCount()), "1", 0, "R", false, 0, "")
		pdf.CellFormat(92, 6, pdfText(tr, truncate(d.Message(), 60)), "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildRunXLSX renders a run as a workbook with a summary, a dates sheet and a customers sheet.
func BuildRunXLSX(run pipeline.RunResult) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	datesSheet := "dates"
	customersSheet := "customers"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(datesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(customersSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", "Consumption Forecast Submission Report")
	_ = f.SetCellValue(summarySheet, "A3", "Run")
	_ = f.SetCellValue(summarySheet, "B3", run.RunID)
	_ = f.SetCellValue(summarySheet, "A4", "Started")
	_ = f.SetCellValue(summarySheet, "B4", run.StartedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Finished")
	_ = f.SetCellValue(summarySheet, "B5", run.FinishedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Dry run")
	_ = f.SetCellValue(summarySheet, "B6", run.DryRun)
	_ = f.SetCellValue(summarySheet, "A7", "Succeeded")
	_ = f.SetCellValue(summarySheet, "B7", run.Succeeded)
	_ = f.SetCellValue(summarySheet, "A8", "Failed")
	_ = f.SetCellValue(summarySheet, "B8", run.Failed)
	_ = f.SetCellValue(summarySheet, "A9", "Accepted records")
	_ = f.SetCellValue(summarySheet, "B9", run.AcceptedTotal())

	_ = f.SetCellValue(datesSheet, "A1", "Date")
	_ = f.SetCellValue(datesSheet, "B1", "Status")
	_ = f.SetCellValue(datesSheet, "C1", "Failed at")
	_ = f.SetCellValue(datesSheet, "D1", "Accepted")
	_ = f.SetCellValue(datesSheet, "E1", "Message")

	_ = f.SetCellValue(customersSheet, "A1", "Date")
	_ = f.SetCellValue(customersSheet, "B1", "Customer")
	_ = f.SetCellValue(customersSheet, "C1", "Facility")
	_ = f.SetCellValue(customersSheet, "D1", "Status")
	_ = f.SetCellValue(customersSheet, "E1", "Accepted")
	_ = f.SetCellValue(customersSheet, "F1", "Message")

	customerRow := 2
	for i, d := range run.Dates {
		row := i + 2
		day := d.Date.Format(forecast.DayLayout)
		_ = f.SetCellValue(datesSheet, fmt.Sprintf("A%d", row), day)
		_ = f.SetCellValue(datesSheet, fmt.Sprintf("B%d", row), dateStatus(d))
		_ = f.SetCellValue(datesSheet, fmt.Sprintf("C%d", row), failedStep(d))
		_ = f.SetCellValue(datesSheet, fmt.Sprintf("D%d", row), d.AcceptedCount())
		_ = f.SetCellValue(datesSheet, fmt.Sprintf("E%d", row), d.Message())

		for _, c := range d.Customers {
			_ = f.SetCellValue(customersSheet, fmt.Sprintf("A%d", customerRow), day)
			_ = f.SetCellValue(customersSheet, fmt.Sprintf("B%d", customerRow), c.Customer)
			if c.FacilityID > 0 {
				_ = f.SetCellValue(customersSheet, fmt.Sprintf("C%d", customerRow), c.FacilityID)
			}
			_ = f.SetCellValue(customersSheet, fmt.Sprintf("D%d", customerRow), c.Status)
			_ = f.SetCellValue(customersSheet, fmt.Sprintf("E%d", customerRow), c.AcceptedCount)
			_ = f.SetCellValue(customersSheet, fmt.Sprintf("F%d", customerRow), c.Message)
			customerRow++
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
