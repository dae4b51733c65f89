// Package report renders doctor-review PDF summaries of communication
// results.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"healthcare-followup/internal/followup"
	"healthcare-followup/internal/patient"
)

// Service builds PDF review reports.
type Service struct {
	fontPaths []string
}

// NewService creates a report service. Font paths are probed in order; the
// defaults cover common Linux layouts.
func NewService() *Service {
	return &Service{
		fontPaths: []string{
			"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
			"/usr/share/fonts/dejavu/DejaVuSans.ttf",
			"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
		},
	}
}

// BuildReviewReport renders a one-page PDF summary of a communication
// result for doctor review.
func (s *Service) BuildReviewReport(result followup.CommunicationResult, p patient.Record) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	fontLoaded := false
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return nil, fmt.Errorf("failed to load font for PDF, ensure ttf-dejavu is installed: %w", fontErr)
	}

	if err := pdf.SetFont("DejaVu", "", 20); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Patient Follow-Up Report")
	pdf.Br(30)

	if err := pdf.SetFont("DejaVu", "", 12); err != nil {
		return nil, err
	}
	pdf.Cell(nil, fmt.Sprintf("Date: %s", time.Now().Format("2006-01-02 15:04")))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Patient: %s (%s)", p.Name, p.PatientID))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Medical History: %s", strings.Join(p.MedicalHistory, ", ")))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Current Medications: %s", strings.Join(p.CurrentMedications, ", ")))
	pdf.Br(25)

	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Communication Outcome:")
	pdf.Br(15)

	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return nil, err
	}
	pdf.Cell(nil, fmt.Sprintf("Outcome: %s", strings.ToUpper(string(result.Outcome))))
	pdf.Br(12)
	pdf.Cell(nil, fmt.Sprintf("Status: %s", result.Status))
	pdf.Br(12)
	pdf.Cell(nil, fmt.Sprintf("Confidence: %.2f", result.ConfidenceScore))
	pdf.Br(12)
	if len(result.MissingData) > 0 {
		pdf.Cell(nil, fmt.Sprintf("Missing Data: %s", strings.Join(result.MissingData, ", ")))
		pdf.Br(12)
	}
	pdf.Br(10)

	if result.Notes != "" {
		if err := pdf.SetFont("DejaVu", "", 14); err != nil {
			return nil, err
		}
		pdf.Cell(nil, "Notes:")
		pdf.Br(15)
		if err := pdf.SetFont("DejaVu", "", 11); err != nil {
			return nil, err
		}
		for _, paragraph := range strings.Split(result.Notes, "\n") {
			if paragraph == "" {
				pdf.Br(6)
				continue
			}
			lines, _ := pdf.SplitText(paragraph, 500)
			for _, l := range lines {
				pdf.Cell(nil, l)
				pdf.Br(12)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}
