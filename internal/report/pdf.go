package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/guchanghao1/zhianjian-system/internal/domain"
	"github.com/guchanghao1/zhianjian-system/internal/metrics"
	"github.com/guchanghao1/zhianjian-system/internal/storage"
)

// =============================================================================
// PDF Exporter
// =============================================================================

// cjkFontCandidates are probed in order for a font that can render Chinese
// text. The first readable file wins.
var cjkFontCandidates = []string{
	"/usr/share/fonts/truetype/wqy/wqy-microhei.ttf",
	"/usr/share/fonts/truetype/wqy/wqy-zenhei.ttf",
	"/usr/share/fonts/opentype/noto/NotoSansCJKsc-Regular.ttf",
	"/usr/share/fonts/noto-cjk/NotoSansCJK-Regular.ttf",
	"C:/Windows/Fonts/simhei.ttf",
	"C:/Windows/Fonts/simsun.ttf",
	"C:/Windows/Fonts/msyh.ttf",
}

// ExportResult describes the outcome of one PDF export attempt.
type ExportResult struct {
	Success    bool   `json:"success"`
	OutputPath string `json:"output_path,omitempty"`
	Filename   string `json:"filename,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PDFExporter writes composed reports as A4 PDF documents.
type PDFExporter struct {
	outputDir string
	fontPath  string
	archive   storage.Storage
	logger    *slog.Logger

	// Page geometry in mm
	pageWidth    float64
	margin       float64
	contentWidth float64
}

// NewPDFExporter creates an exporter writing into outputDir. fontPath may
// name a specific CJK TrueType font; when empty, well-known system
// locations are probed. Without a usable CJK font the exporter falls back
// to Helvetica, which cannot render Chinese glyphs correctly.
func NewPDFExporter(outputDir, fontPath string, logger *slog.Logger) *PDFExporter {
	margin := 20.0
	pageWidth := 210.0

	e := &PDFExporter{
		outputDir:    outputDir,
		logger:       logger,
		pageWidth:    pageWidth,
		margin:       margin,
		contentWidth: pageWidth - 2*margin,
	}
	e.fontPath = e.findFont(fontPath)
	return e
}

// SetArchive makes the exporter copy every successfully exported PDF into
// object storage under reports/<report_id>.pdf, in addition to the local
// file. Archival failures are logged, not surfaced; the local export
// already succeeded.
func (e *PDFExporter) SetArchive(store storage.Storage) {
	e.archive = store
}

func (e *PDFExporter) findFont(preferred string) string {
	candidates := cjkFontCandidates
	if preferred != "" {
		candidates = append([]string{preferred}, candidates...)
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			e.logger.Info("CJK font registered", "path", path)
			return path
		}
	}
	e.logger.Warn("No CJK font found, PDF output may render Chinese text incorrectly")
	return ""
}

// Export writes the report as a PDF. When outputPath is empty the file is
// written to the output directory as <report_id>.pdf. Export never
// panics or returns an error value; failures are reported through the
// result so the tool boundary can map them to coded messages.
func (e *PDFExporter) Export(report domain.ReportData, outputPath string) ExportResult {
	if report.Failed {
		metrics.ReportsExported.WithLabelValues("error").Inc()
		return ExportResult{Success: false, Error: "无法导出失败的报告"}
	}

	if outputPath == "" {
		if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
			metrics.ReportsExported.WithLabelValues("error").Inc()
			return ExportResult{Success: false, Error: fmt.Sprintf("创建输出目录失败: %v", err)}
		}
		outputPath = filepath.Join(e.outputDir, report.ReportID+".pdf")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(report.Title, true)
	pdf.SetCreator("zhianjian-system", true)
	pdf.SetAutoPageBreak(true, 25)

	font := "Helvetica"
	if e.fontPath != "" {
		pdf.AddUTF8Font("cjk", "", e.fontPath)
		font = "cjk"
	}

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(font, "", 8)
		pdf.SetTextColor(128, 128, 128)
		footer := fmt.Sprintf("%s  %d", time.Now().Format("2006-01-02 15:04:05"), pdf.PageNo())
		pdf.CellFormat(0, 10, footer, "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	e.addTitleBlock(pdf, font, report)
	for _, s := range report.Sections {
		e.addSection(pdf, font, s)
	}

	if err := pdf.Error(); err != nil {
		e.logger.Error("PDF generation failed", "report_id", report.ReportID, "error", err)
		metrics.ReportsExported.WithLabelValues("error").Inc()
		return ExportResult{Success: false, Error: fmt.Sprintf("PDF生成失败: %v", err)}
	}

	if err := pdf.OutputFileAndClose(outputPath); err != nil {
		e.logger.Error("PDF write failed", "path", outputPath, "error", err)
		metrics.ReportsExported.WithLabelValues("error").Inc()
		return ExportResult{Success: false, Error: fmt.Sprintf("PDF导出失败: %v", err)}
	}

	if e.archive != nil {
		e.archiveExport(report.ReportID, outputPath)
	}

	e.logger.Info("PDF exported", "path", outputPath)
	metrics.ReportsExported.WithLabelValues("ok").Inc()
	return ExportResult{
		Success:    true,
		OutputPath: outputPath,
		Filename:   filepath.Base(outputPath),
	}
}

func (e *PDFExporter) archiveExport(reportID, path string) {
	f, err := os.Open(path)
	if err != nil {
		e.logger.Warn("Report archival skipped, cannot reopen export", "path", path, "error", err)
		return
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := storage.ReportKey(reportID)
	err = e.archive.Put(ctx, key, f, storage.PutOptions{
		ContentType: "application/pdf",
		Overwrite:   true,
	})
	if err != nil {
		e.logger.Warn("Report archival failed", "key", key, "error", err)
		return
	}
	e.logger.Debug("Report archived", "key", key)
}

func (e *PDFExporter) addTitleBlock(pdf *fpdf.Fpdf, font string, report domain.ReportData) {
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont(font, "", 22)
	pdf.CellFormat(0, 14, report.Title, "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont(font, "", 11)
	pdf.CellFormat(0, 7, "报告编号: "+report.ReportID, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, "生成日期: "+report.GenerateDate, "", 1, "L", false, 0, "")
	if report.Company != "" {
		pdf.CellFormat(0, 7, "公司名称: "+report.Company, "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 7, "整体风险评估: "+report.OverallRisk.Label()+"（"+report.OverallRisk.Advice()+"）", "", 1, "L", false, 0, "")
	pdf.Ln(8)
}

func (e *PDFExporter) addSection(pdf *fpdf.Fpdf, font string, section domain.ReportSection) {
	pdf.SetFont(font, "", 14)
	pdf.CellFormat(0, 9, section.Name, "", 1, "L", false, 0, "")
	pdf.Ln(1)

	pdf.SetFont(font, "", 11)
	pdf.MultiCell(e.contentWidth, 6, section.Content, "", "L", false)
	pdf.Ln(5)
}
