package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/guchanghao1/zhianjian-system/internal/domain"
	"github.com/guchanghao1/zhianjian-system/internal/metrics"
	"github.com/guchanghao1/zhianjian-system/internal/report"
)

const maxReportTitleLen = 100

// ImageAnalyzer analyzes a site photo into structured hazards.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, path string) domain.AnalysisResult
}

// KnowledgeSearcher retrieves relevant knowledge base passages.
type KnowledgeSearcher interface {
	Retrieve(ctx context.Context, query string) []domain.RetrievedDocument
}

// ReportComposer generates a structured report from an analysis result.
type ReportComposer interface {
	Generate(ctx context.Context, analysis domain.AnalysisResult, docs []domain.RetrievedDocument, meta domain.ReportMeta) domain.ReportData
}

// PDFWriter exports a composed report to a PDF file.
type PDFWriter interface {
	Export(data domain.ReportData, outputPath string) report.ExportResult
}

// Definition describes one tool for function-calling registration.
type Definition struct {
	Name        string
	Description string
	Run         func(ctx context.Context, input string) string
}

// Toolbox wires the pipeline components behind the agent tool boundary.
type Toolbox struct {
	analyzer ImageAnalyzer
	searcher KnowledgeSearcher
	composer ReportComposer
	exporter PDFWriter
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a Toolbox over the pipeline components.
func New(analyzer ImageAnalyzer, searcher KnowledgeSearcher, composer ReportComposer, exporter PDFWriter, logger *slog.Logger) *Toolbox {
	return &Toolbox{
		analyzer: analyzer,
		searcher: searcher,
		composer: composer,
		exporter: exporter,
		logger:   logger,
		now:      time.Now,
	}
}

// Definitions returns the tool registrations for the agent, matching the
// descriptions the system prompt advertises.
func (t *Toolbox) Definitions() []Definition {
	return []Definition{
		{
			Name:        "analyze_image_tool",
			Description: "分析施工现场图片，识别安全隐患。输入应为图片文件路径。【限制：仅支持 JPG/JPEG/PNG 格式，不超过 10MB】",
			Run:         t.AnalyzeImage,
		},
		{
			Name:        "retrieve_knowledge_tool",
			Description: "从知识库中检索相关的建筑施工安全知识。输入为查询关键词。【限制：仅限中文查询，与施工安全相关】",
			Run:         t.RetrieveKnowledge,
		},
		{
			Name:        "generate_report_tool",
			Description: "生成安全评估报告。输入应为JSON格式的分析结果，或使用默认示例数据。【限制：JSON 必须包含 hazards 字段】",
			Run:         t.GenerateReport,
		},
		{
			Name:        "export_pdf_tool",
			Description: "导出PDF报告。输入为报告标题，将生成示例PDF报告。【限制：标题不超过 100 个字符】",
			Run:         t.ExportPDF,
		},
	}
}

// AnalyzeImage runs hazard analysis for the image path in input.
func (t *Toolbox) AnalyzeImage(ctx context.Context, input string) string {
	return t.guard("analyze_image_tool", func() string {
		if ok, msg := validateRequired(input, "图片路径"); !ok {
			return coded(CodeInvalidInput, msg)
		}
		path := strings.TrimSpace(input)

		if ok, msg := validateFileExists(path); !ok {
			return coded(CodeFileNotFound, fmt.Sprintf("%s: %s", msg, path))
		}
		if ok, msg := validateImageFormat(path); !ok {
			return coded(CodeInvalidFileFormat, msg)
		}

		result := t.analyzer.Analyze(ctx, path)
		if !result.Success {
			return coded(CodeToolExecutionError, "分析失败: "+result.Error)
		}

		var out strings.Builder
		fmt.Fprintf(&out, "分析完成！\n\n%s\n\n", result.Summary)
		if len(result.Hazards) > 0 {
			out.WriteString("检测到的隐患：\n")
			for i, h := range result.Hazards {
				fmt.Fprintf(&out, "%d. %s - %s\n", i+1, h.HazardType, h.Severity)
				fmt.Fprintf(&out, "   位置: %s\n", h.Location)
				fmt.Fprintf(&out, "   描述: %s\n", h.Description)
			}
		} else {
			out.WriteString("未检测到明显安全隐患")
		}
		return out.String()
	})
}

// RetrieveKnowledge searches the knowledge base for the query in input.
func (t *Toolbox) RetrieveKnowledge(ctx context.Context, input string) string {
	return t.guard("retrieve_knowledge_tool", func() string {
		if ok, msg := validateRequired(input, "查询关键词"); !ok {
			return coded(CodeInvalidInput, msg)
		}
		query := strings.TrimSpace(input)

		docs := t.searcher.Retrieve(ctx, query)
		if len(docs) == 0 {
			return "未检索到相关知识"
		}

		var out strings.Builder
		fmt.Fprintf(&out, "关于\"%s\"，从知识库中检索到相关知识如下：\n\n", query)
		for i, d := range docs {
			fmt.Fprintf(&out, "%d. %s\n\n", i+1, cleanPassage(d.Content))
		}
		out.WriteString("如需进一步了解某一方面的详细内容，可继续提问。")
		return out.String()
	})
}

// GenerateReport composes a full assessment report. The input may carry a
// JSON analysis result with a "hazards" field; anything else falls back to
// the built-in example analysis.
func (t *Toolbox) GenerateReport(ctx context.Context, input string) string {
	return t.guard("generate_report_tool", func() string {
		analysis := exampleAnalysis()
		if parsed, ok := validateJSON(input); ok {
			if _, hasHazards := parsed["hazards"]; hasHazards {
				raw, _ := json.Marshal(parsed)
				var custom domain.AnalysisResult
				if err := json.Unmarshal(raw, &custom); err == nil {
					analysis = custom
				}
			}
		}

		docs := t.searcher.Retrieve(ctx, "施工安全")

		data := t.composer.Generate(ctx, analysis, docs, domain.ReportMeta{
			Title: domain.DefaultReportTitle,
			Date:  t.now().Format("2006年01月02日"),
		})
		if data.Failed {
			return coded(CodeToolExecutionError, "报告生成失败: "+data.Error)
		}
		return report.FormatForDisplay(data)
	})
}

// ExportPDF generates an example report under the given title and writes
// it to a PDF file.
func (t *Toolbox) ExportPDF(ctx context.Context, input string) string {
	return t.guard("export_pdf_tool", func() string {
		title := strings.TrimSpace(input)
		if title == "" {
			title = "安全评估报告"
		}
		if len([]rune(title)) > maxReportTitleLen {
			return coded(CodeInvalidInput, fmt.Sprintf("报告标题长度不能超过 %d 个字符", maxReportTitleLen))
		}

		analysis := domain.AnalysisResult{
			Success: true,
			Hazards: []domain.Hazard{
				{
					HazardType:  "示例隐患",
					Location:    "示例位置",
					Severity:    domain.SeverityMedium,
					Description: "这是一个示例报告",
					Confidence:  0.9,
				},
			},
			Summary: "示例报告",
		}

		data := t.composer.Generate(ctx, analysis, nil, domain.ReportMeta{
			Title: title,
			Date:  t.now().Format("2006年01月02日"),
		})
		if data.Failed {
			return coded(CodeToolExecutionError, "报告生成失败: "+data.Error)
		}

		result := t.exporter.Export(data, "")
		if !result.Success {
			return coded(CodeToolExecutionError, "PDF导出失败: "+result.Error)
		}
		return coded(CodeSuccess, "PDF导出成功！文件保存至: "+result.OutputPath)
	})
}

// guard runs a tool body, converts panics into coded internal errors, and
// records the outcome metric.
func (t *Toolbox) guard(name string, fn func() string) (out string) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Tool panicked", "tool", name, "panic", r)
			out = coded(CodeInternalError, fmt.Sprintf("工具调用出错: %v", r))
		}
		metrics.ToolCalls.WithLabelValues(name, string(resultCode(out))).Inc()
	}()
	return fn()
}

// resultCode extracts the leading error code of a tool response. Responses
// without a code prefix count as success.
func resultCode(out string) ErrorCode {
	if len(out) >= 6 && out[0] == '[' && out[5] == ']' {
		return ErrorCode(out[1:5])
	}
	return CodeSuccess
}

// cleanPassage strips markdown heading markers and blank lines from a
// retrieved passage so it reads as plain prose.
func cleanPassage(content string) string {
	content = strings.ReplaceAll(content, "### ", "")
	content = strings.ReplaceAll(content, "## ", "")

	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

// exampleAnalysis is the default analysis used by generate_report_tool
// when the caller supplies no usable JSON input.
func exampleAnalysis() domain.AnalysisResult {
	return domain.AnalysisResult{
		Success: true,
		Hazards: []domain.Hazard{
			{
				HazardType:  "未佩戴安全帽",
				Location:    "图片左侧工人",
				Severity:    domain.SeverityHigh,
				Description: "工人未按规定佩戴安全帽",
				Confidence:  0.95,
			},
		},
		Summary: "检测到1项高风险隐患",
	}
}
