package report

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/radarwire/internal/common"
)

const maxEventsListed = 20

// SavePDF renders rep into a PDF document at out.
func SavePDF(rep *Report, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Recording Report", false)
	pdf.SetAuthor(emptyFallback(rep.Tool, "trackrec"), false)
	pdf.SetCreator(emptyFallback(rep.Tool, "trackrec"), false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Recording Report")
	if err := addDigestSection(pdf, rep); err != nil {
		return err
	}
	addOverviewSection(pdf, rep)
	for i, rec := range rep.Recordings {
		addRecordingSection(pdf, i+1, rec)
	}

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addDigestSection(pdf *gofpdf.Fpdf, rep *Report) error {
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(30, 6, "Generated", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 6, rep.Generated.Format(time.RFC3339), "", 1, "L", false, 0, "")
	pdf.CellFormat(30, 6, "Digest", "", 0, "L", false, 0, "")
	pdf.SetFont("Courier", "", 8)
	pdf.CellFormat(0, 6, emptyFallback(rep.Digest, "-"), "", 1, "L", false, 0, "")
	if rep.Digest == "" {
		pdf.Ln(4)
		return nil
	}
	png, err := DigestToQR(rep.Digest, 256)
	if err != nil {
		return err
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader("digest-qr", opts, bytes.NewReader(png))
	y := pdf.GetY() + 2
	pdf.ImageOptions("digest-qr", 15, y, 30, 30, false, opts, 0, "")
	pdf.SetY(y + 34)
	return nil
}

func addOverviewSection(pdf *gofpdf.Fpdf, rep *Report) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Recordings")
	pdf.Ln(9)

	headers := []string{"#", "File", "Start", "End", "Packets", "Tracks", "Corrupt"}
	widths := []float64{8, 52, 36, 36, 18, 16, 14}
	tableHeader(pdf, headers, widths)

	pdf.SetFont("Helvetica", "", 8)
	for i, r := range rep.Recordings {
		renderTableRow(pdf, widths, []string{
			strconv.Itoa(i + 1),
			baseName(r.Path),
			timeLabel(r.Start),
			timeLabel(r.End),
			strconv.FormatInt(r.Packets, 10),
			strconv.FormatInt(r.Tracks, 10),
			strconv.FormatInt(r.Metrics.Corrupt, 10),
		}, 4.5)
	}
	pdf.Ln(4)

	if len(rep.Events) > 0 {
		pdf.SetFont("Helvetica", "", 10)
		kinds := make([]string, 0, len(rep.Events))
		for k := range rep.Events {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		parts := make([]string, 0, len(kinds))
		for _, k := range kinds {
			parts = append(parts, fmt.Sprintf("%s %d", k, rep.Events[k]))
		}
		pdf.MultiCell(0, 5, "Events: "+strings.Join(parts, " · "), "", "L", false)
		pdf.Ln(2)
	}
}

func addRecordingSection(pdf *gofpdf.Fpdf, n int, r Recording) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.MultiCell(0, 7, fmt.Sprintf("%d. %s", n, baseName(r.Path)), "", "L", false)
	pdf.Ln(1)

	pdf.SetFont("Helvetica", "", 10)
	items := []struct {
		label string
		value string
	}{
		{"Path", r.Path},
		{"Size", common.FormatBytes(r.Size)},
		{"SHA-256", r.SHA256},
		{"Session", emptyFallback(r.SessionID, "-")},
		{"Source", emptyFallback(r.Source, "-")},
		{"Span", fmt.Sprintf("%s - %s", timeLabel(r.Start), timeLabel(r.End))},
		{"Index", fmt.Sprintf("%d entries, %d s resolution", r.TOCEntries, r.Resolution)},
		{"Track reports", fmt.Sprintf("%d (%d partial, %d failed)", r.Tracks, r.Partial, r.DecodeErrors)},
		{"Resyncs", fmt.Sprintf("%d (%s skipped)", r.Metrics.Resyncs, common.FormatBytes(r.Metrics.Skipped))},
		{"Continues in", emptyFallback(r.NextName, "-")},
	}
	for _, item := range items {
		pdf.CellFormat(35, 5.5, item.label, "", 0, "L", false, 0, "")
		pdf.MultiCell(0, 5.5, item.value, "", "L", false)
	}
	pdf.Ln(2)

	if len(r.ByTag) > 0 {
		tags := make([]string, 0, len(r.ByTag))
		for t := range r.ByTag {
			tags = append(tags, t)
		}
		sort.Strings(tags)
		widths := []float64{60, 30}
		tableHeader(pdf, []string{"Packet type", "Count"}, widths)
		pdf.SetFont("Helvetica", "", 9)
		for _, t := range tags {
			renderTableRow(pdf, widths, []string{t, strconv.FormatInt(r.ByTag[t], 10)}, 5)
		}
		pdf.Ln(3)
	}

	if len(r.Events) > 0 {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.Cell(0, 6, "Events")
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "", 9)
		for i, ev := range r.Events {
			if i == maxEventsListed {
				pdf.MultiCell(0, 4.5, fmt.Sprintf("... %d more", len(r.Events)-i), "", "L", false)
				break
			}
			pdf.MultiCell(0, 4.5, eventLine(ev), "", "L", false)
		}
	}
	pdf.Ln(4)
}

func tableHeader(pdf *gofpdf.Fpdf, headers []string, widths []float64) {
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 9)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func eventLine(ev common.Event) string {
	parts := []string{ev.Kind}
	if !ev.Ts.IsZero() {
		parts = append(parts, ev.Ts.Format(time.RFC3339))
	}
	if ev.Offset != 0 {
		parts = append(parts, fmt.Sprintf("offset %d", ev.Offset))
	}
	if ev.Skip != 0 {
		parts = append(parts, fmt.Sprintf("skipped %d", ev.Skip))
	}
	if ev.Detail != "" {
		parts = append(parts, ev.Detail)
	}
	return strings.Join(parts, " · ")
}

func timeLabel(t time.Time) string {
	if t.IsZero() || t.Unix() == 0 {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
