package tools

import (
	"context"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/guchanghao1/zhianjian-system/internal/domain"
	"github.com/guchanghao1/zhianjian-system/internal/report"
)

type fakeAnalyzer struct {
	result domain.AnalysisResult
	paths  []string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, path string) domain.AnalysisResult {
	f.paths = append(f.paths, path)
	return f.result
}

type fakeSearcher struct {
	docs    []domain.RetrievedDocument
	queries []string
}

func (f *fakeSearcher) Retrieve(ctx context.Context, query string) []domain.RetrievedDocument {
	f.queries = append(f.queries, query)
	return f.docs
}

type fakeComposer struct {
	data     domain.ReportData
	analyses []domain.AnalysisResult
	metas    []domain.ReportMeta
	panic    bool
}

func (f *fakeComposer) Generate(ctx context.Context, analysis domain.AnalysisResult, docs []domain.RetrievedDocument, meta domain.ReportMeta) domain.ReportData {
	if f.panic {
		panic("composer exploded")
	}
	f.analyses = append(f.analyses, analysis)
	f.metas = append(f.metas, meta)
	if f.data.ReportID == "" {
		return domain.ReportData{
			ReportID:     "REPORT-20260101-000000-abcd1234",
			Title:        meta.Title,
			GenerateDate: meta.Date,
			OverallRisk:  domain.RiskHigh,
			Sections:     []domain.ReportSection{{Name: "隐患概述", Content: "概述内容"}},
		}
	}
	return f.data
}

type fakeExporter struct {
	result report.ExportResult
}

func (f *fakeExporter) Export(data domain.ReportData, outputPath string) report.ExportResult {
	return f.result
}

func testToolbox(analyzer *fakeAnalyzer, searcher *fakeSearcher, composer *fakeComposer, exporter *fakeExporter) *Toolbox {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(analyzer, searcher, composer, exporter, logger)
}

func writeTestImage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAnalyzeImageSuccess(t *testing.T) {
	analyzer := &fakeAnalyzer{result: domain.AnalysisResult{
		Success: true,
		Hazards: []domain.Hazard{
			{HazardType: "未佩戴安全帽", Location: "左侧", Severity: domain.SeverityHigh, Description: "工人未戴安全帽"},
		},
		Summary: "检测到1项隐患",
	}}
	tb := testToolbox(analyzer, &fakeSearcher{}, &fakeComposer{}, &fakeExporter{})

	out := tb.AnalyzeImage(context.Background(), writeTestImage(t, "site.png"))

	if !strings.HasPrefix(out, "分析完成！") {
		t.Errorf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "1. 未佩戴安全帽 - high") {
		t.Errorf("hazard listing missing: %q", out)
	}
	if !strings.Contains(out, "位置: 左侧") {
		t.Errorf("location missing: %q", out)
	}
}

func TestAnalyzeImageEmptyInput(t *testing.T) {
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, &fakeComposer{}, &fakeExporter{})

	out := tb.AnalyzeImage(context.Background(), "   ")
	if !strings.HasPrefix(out, "[1001]") {
		t.Errorf("expected [1001] prefix, got %q", out)
	}
}

func TestAnalyzeImageMissingFile(t *testing.T) {
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, &fakeComposer{}, &fakeExporter{})

	out := tb.AnalyzeImage(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	if !strings.HasPrefix(out, "[1002]") {
		t.Errorf("expected [1002] prefix, got %q", out)
	}
}

func TestAnalyzeImageBadFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("text"), 0o644); err != nil {
		t.Fatal(err)
	}
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, &fakeComposer{}, &fakeExporter{})

	out := tb.AnalyzeImage(context.Background(), path)
	if !strings.HasPrefix(out, "[1003]") {
		t.Errorf("expected [1003] prefix, got %q", out)
	}
}

func TestAnalyzeImageAnalysisFailure(t *testing.T) {
	analyzer := &fakeAnalyzer{result: domain.AnalysisResult{Success: false, Error: "模型不可用"}}
	tb := testToolbox(analyzer, &fakeSearcher{}, &fakeComposer{}, &fakeExporter{})

	out := tb.AnalyzeImage(context.Background(), writeTestImage(t, "site.jpg"))
	if !strings.HasPrefix(out, "[2001]") {
		t.Errorf("expected [2001] prefix, got %q", out)
	}
	if !strings.Contains(out, "模型不可用") {
		t.Errorf("error detail missing: %q", out)
	}
}

func TestRetrieveKnowledgeFormatsResults(t *testing.T) {
	searcher := &fakeSearcher{docs: []domain.RetrievedDocument{
		{Content: "## 高处作业\n\n必须系好安全带。"},
		{Content: "### 安全帽\n进入现场必须佩戴。"},
	}}
	tb := testToolbox(&fakeAnalyzer{}, searcher, &fakeComposer{}, &fakeExporter{})

	out := tb.RetrieveKnowledge(context.Background(), "高处作业")

	if !strings.Contains(out, "关于\"高处作业\"") {
		t.Errorf("query echo missing: %q", out)
	}
	if strings.Contains(out, "## ") || strings.Contains(out, "### ") {
		t.Errorf("markdown headings should be stripped: %q", out)
	}
	if !strings.Contains(out, "1. 高处作业\n必须系好安全带。") {
		t.Errorf("numbered passage missing: %q", out)
	}
	if !strings.HasSuffix(out, "如需进一步了解某一方面的详细内容，可继续提问。") {
		t.Errorf("closing line missing: %q", out)
	}
}

func TestRetrieveKnowledgeNoResults(t *testing.T) {
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, &fakeComposer{}, &fakeExporter{})

	out := tb.RetrieveKnowledge(context.Background(), "高处作业")
	if out != "未检索到相关知识" {
		t.Errorf("got %q", out)
	}
}

func TestGenerateReportDefaultExample(t *testing.T) {
	composer := &fakeComposer{}
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, composer, &fakeExporter{})

	out := tb.GenerateReport(context.Background(), "")

	if len(composer.analyses) != 1 {
		t.Fatalf("composer called %d times", len(composer.analyses))
	}
	hazards := composer.analyses[0].Hazards
	if len(hazards) != 1 || hazards[0].HazardType != "未佩戴安全帽" {
		t.Errorf("expected built-in example hazard, got %+v", hazards)
	}
	if !strings.Contains(out, "# 施工现场安全评估报告") {
		t.Errorf("formatted report missing: %q", out)
	}
}

func TestGenerateReportCustomAnalysis(t *testing.T) {
	composer := &fakeComposer{}
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, composer, &fakeExporter{})

	input := `{"hazards": [{"hazard_type": "临边无防护", "severity": "medium"}], "summary": "检测到1项隐患"}`
	tb.GenerateReport(context.Background(), input)

	hazards := composer.analyses[0].Hazards
	if len(hazards) != 1 || hazards[0].HazardType != "临边无防护" {
		t.Errorf("custom analysis not used: %+v", hazards)
	}
}

func TestGenerateReportInvalidJSONFallsBack(t *testing.T) {
	composer := &fakeComposer{}
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, composer, &fakeExporter{})

	tb.GenerateReport(context.Background(), "not json at all")

	if composer.analyses[0].Hazards[0].HazardType != "未佩戴安全帽" {
		t.Errorf("invalid JSON should fall back to the example analysis")
	}
}

func TestGenerateReportRetrievesContext(t *testing.T) {
	searcher := &fakeSearcher{}
	tb := testToolbox(&fakeAnalyzer{}, searcher, &fakeComposer{}, &fakeExporter{})

	tb.GenerateReport(context.Background(), "")

	if len(searcher.queries) != 1 || searcher.queries[0] != "施工安全" {
		t.Errorf("expected knowledge lookup for 施工安全, got %v", searcher.queries)
	}
}

func TestExportPDFSuccess(t *testing.T) {
	exporter := &fakeExporter{result: report.ExportResult{
		Success:    true,
		OutputPath: "/tmp/out/REPORT-1.pdf",
		Filename:   "REPORT-1.pdf",
	}}
	composer := &fakeComposer{}
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, composer, exporter)

	out := tb.ExportPDF(context.Background(), "季度安全检查报告")

	if !strings.HasPrefix(out, "[0000]") {
		t.Errorf("expected [0000] prefix, got %q", out)
	}
	if !strings.Contains(out, "/tmp/out/REPORT-1.pdf") {
		t.Errorf("output path missing: %q", out)
	}
	if composer.metas[0].Title != "季度安全检查报告" {
		t.Errorf("title = %q", composer.metas[0].Title)
	}
}

func TestExportPDFDefaultTitle(t *testing.T) {
	composer := &fakeComposer{}
	exporter := &fakeExporter{result: report.ExportResult{Success: true, OutputPath: "x.pdf", Filename: "x.pdf"}}
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, composer, exporter)

	tb.ExportPDF(context.Background(), "  ")

	if composer.metas[0].Title != "安全评估报告" {
		t.Errorf("title = %q", composer.metas[0].Title)
	}
}

func TestExportPDFTitleTooLong(t *testing.T) {
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, &fakeComposer{}, &fakeExporter{})

	out := tb.ExportPDF(context.Background(), strings.Repeat("安", 101))
	if !strings.HasPrefix(out, "[1001]") {
		t.Errorf("expected [1001] prefix, got %q", out)
	}
}

func TestExportPDFFailure(t *testing.T) {
	exporter := &fakeExporter{result: report.ExportResult{Success: false, Error: "无可用字体"}}
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, &fakeComposer{}, exporter)

	out := tb.ExportPDF(context.Background(), "报告")
	if !strings.HasPrefix(out, "[2001]") {
		t.Errorf("expected [2001] prefix, got %q", out)
	}
}

func TestPanicBecomesInternalError(t *testing.T) {
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, &fakeComposer{panic: true}, &fakeExporter{})

	out := tb.GenerateReport(context.Background(), "")
	if !strings.HasPrefix(out, "[9999]") {
		t.Errorf("expected [9999] prefix, got %q", out)
	}
	if !strings.Contains(out, "工具调用出错") {
		t.Errorf("panic message missing: %q", out)
	}
}

func TestResultCode(t *testing.T) {
	tests := []struct {
		out  string
		want ErrorCode
	}{
		{"[1001] 输入参数无效", CodeInvalidInput},
		{"[0000] 操作成功", CodeSuccess},
		{"分析完成！", CodeSuccess},
		{"", CodeSuccess},
	}
	for _, tt := range tests {
		if got := resultCode(tt.out); got != tt.want {
			t.Errorf("resultCode(%q) = %q, want %q", tt.out, got, tt.want)
		}
	}
}

func TestDefinitionsCoverAllTools(t *testing.T) {
	tb := testToolbox(&fakeAnalyzer{}, &fakeSearcher{}, &fakeComposer{}, &fakeExporter{})

	defs := tb.Definitions()
	if len(defs) != 4 {
		t.Fatalf("expected 4 tool definitions, got %d", len(defs))
	}
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Name] = true
		if d.Description == "" || d.Run == nil {
			t.Errorf("incomplete definition: %+v", d.Name)
		}
	}
	for _, want := range []string{"analyze_image_tool", "retrieve_knowledge_tool", "generate_report_tool", "export_pdf_tool"} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}
