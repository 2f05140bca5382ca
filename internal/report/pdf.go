// Package report renders voice-emotion reports and hands them to therapists.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

// Feature is one named acoustic scalar.
type Feature struct {
	Name  string
	Value float64
}

// Data is everything printed on a report.
type Data struct {
	PatientName   string
	TherapistName string
	Emotion       string
	Features      []Feature
	Fallback      bool
	GeneratedAt   time.Time
}

// Generator renders report data to a document.
type Generator interface {
	Generate(data Data) ([]byte, error)
}

// PDFGenerator renders A4 reports with fpdf.
type PDFGenerator struct {
	title string
}

func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{title: "Voice Emotion Analysis Report"}
}

func (g *PDFGenerator) Generate(data Data) ([]byte, error) {
	generatedAt := data.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(g.title, true)
	pdf.SetCreationDate(generatedAt)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, g.title, "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 12)
	row := func(label, value string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(50, 8, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		pdf.CellFormat(0, 8, value, "", 1, "L", false, 0, "")
	}
	row("Patient:", data.PatientName)
	if data.TherapistName != "" {
		row("Therapist:", data.TherapistName)
	}
	row("Generated:", generatedAt.Format("2006-01-02 15:04 MST"))
	row("Detected emotion:", titleCase(data.Emotion))
	if data.Fallback {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 6, "The analysis service was unavailable; neutral placeholder values are shown.", "", "L", false)
	}
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(95, 8, "Feature", "1", 0, "L", true, 0, "")
	pdf.CellFormat(95, 8, "Value", "1", 1, "R", true, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	for _, f := range data.Features {
		pdf.CellFormat(95, 6, f.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(95, 6, fmt.Sprintf("%.4f", f.Value), "1", 1, "R", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("report: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func titleCase(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Unknown"
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
