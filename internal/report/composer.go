// Package report composes structured safety assessment reports from hazard
// analysis results and exports them as PDF documents. A report consists of
// a fixed set of named sections generated by the chat model, plus an
// aggregate risk classification derived from the hazard severities.
package report

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/guchanghao1/zhianjian-system/internal/ai"
	"github.com/guchanghao1/zhianjian-system/internal/cache"
	"github.com/guchanghao1/zhianjian-system/internal/domain"
	"github.com/guchanghao1/zhianjian-system/internal/metrics"
	"github.com/guchanghao1/zhianjian-system/internal/sanitize"
)

// sectionPrompts maps each template section to its generation prompt.
// %s is replaced with the serialized hazard list.
var sectionPrompts = map[string]string{
	"隐患概述":   "请根据以下隐患信息，生成简洁的隐患概述，不超过300字。\n\n隐患信息：%s",
	"风险等级评估": "请根据以下隐患信息，进行风险等级评估。\n\n隐患列表：%s",
	"隐患详细描述": "请详细描述以下安全隐患。\n\n隐患信息：%s",
	"整改建议":   "请根据以下隐患信息，提出整改建议。\n\n隐患信息：%s",
	"预防措施":   "请根据以下隐患信息，提出预防措施。\n\n隐患信息：%s",
	"相关法规依据": "请列出与以下隐患相关的建筑施工安全法规。\n\n隐患信息：%s",
}

const fallbackSectionPrompt = "请根据以下信息生成内容：\n%s"

// noHazardsSummary is the single section content of a report with no
// detected hazards.
const noHazardsSummary = "未检测到明显安全隐患"

// Composer generates reports section by section via the chat model, with
// per-section memoization.
type Composer struct {
	chat   ai.ChatModel
	cache  *cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewComposer creates a report Composer.
func NewComposer(chat ai.ChatModel, memo *cache.Cache, logger *slog.Logger) *Composer {
	return &Composer{
		chat:   chat,
		cache:  memo,
		logger: logger,
		now:    time.Now,
	}
}

// Generate composes a full report for the given analysis result. Reference
// passages from the knowledge base back the regulations section when
// available. Section generation failures never fail the whole report; the
// affected section carries a failure marker instead.
func (c *Composer) Generate(ctx context.Context, analysis domain.AnalysisResult, docs []domain.RetrievedDocument, meta domain.ReportMeta) domain.ReportData {
	now := c.now()

	report := domain.ReportData{
		ReportID:     newReportID(now),
		Title:        meta.Title,
		Company:      meta.Company,
		GenerateDate: meta.Date,
	}
	if report.Title == "" {
		report.Title = domain.DefaultReportTitle
	}
	if report.GenerateDate == "" {
		report.GenerateDate = now.Format("2006年01月02日")
	}

	if len(analysis.Hazards) == 0 {
		report.OverallRisk = domain.RiskLow
		report.Sections = []domain.ReportSection{
			{Name: "隐患概述", Content: noHazardsSummary},
		}
		metrics.ReportsGenerated.Inc()
		return report
	}

	report.OverallRisk = overallRisk(analysis.Hazards)
	report.Sections = make([]domain.ReportSection, 0, len(domain.ReportTemplateSections))
	for _, name := range domain.ReportTemplateSections {
		content := c.generateSection(ctx, name, analysis, docs)
		report.Sections = append(report.Sections, domain.ReportSection{Name: name, Content: content})
	}

	c.logger.Info("Report generated", "report_id", report.ReportID, "risk", report.OverallRisk)
	metrics.ReportsGenerated.Inc()
	return report
}

// overallRisk classifies the aggregate risk from the mean hazard weight.
func overallRisk(hazards []domain.Hazard) domain.RiskLevel {
	total := 0
	for _, h := range hazards {
		total += h.Severity.Weight()
	}
	avg := float64(total) / float64(len(hazards))

	switch {
	case avg >= 2.5:
		return domain.RiskHigh
	case avg >= 1.5:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// generateSection produces one section's narrative content. The result is
// memoized on the section name plus the serialized analysis, so identical
// analyses never hit the model twice.
func (c *Composer) generateSection(ctx context.Context, name string, analysis domain.AnalysisResult, docs []domain.RetrievedDocument) string {
	cacheKey := sectionCacheKey(name, analysis)
	if cached, ok := c.cache.Get(cacheKey); ok {
		if content, ok := cached.(string); ok {
			return content
		}
	}

	hazardJSON, err := json.Marshal(analysis.Hazards)
	if err != nil {
		c.logger.Warn("Section generation failed", "section", name, "error", err)
		return name + "生成失败"
	}

	template, ok := sectionPrompts[name]
	if !ok {
		template = fallbackSectionPrompt
	}
	prompt := fmt.Sprintf(template, string(hazardJSON))

	// Ground the regulations section in retrieved knowledge passages when
	// the knowledge base returned any.
	if name == "相关法规依据" && len(docs) > 0 {
		var refs strings.Builder
		refs.WriteString("\n\n参考资料：\n")
		for i, d := range docs {
			fmt.Fprintf(&refs, "%d. %s\n", i+1, d.Content)
		}
		prompt += refs.String()
	}

	content, err := c.chat.Complete(ctx, ai.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   3000,
		Temperature: 0.3,
	})
	if err != nil {
		c.logger.Warn("Section generation failed", "section", name, "error", err)
		return name + "生成失败"
	}

	content = sanitize.CleanText(content)
	c.cache.Set(cacheKey, content)
	return content
}

func sectionCacheKey(name string, analysis domain.AnalysisResult) string {
	payload, _ := json.Marshal(analysis)
	sum := sha256.Sum256(append([]byte(name+"|"), payload...))
	return fmt.Sprintf("report_section_%x", sum[:16])
}

// newReportID builds a unique report identifier with a sortable timestamp
// prefix. The random suffix keeps reports generated in the same second
// distinct.
func newReportID(now time.Time) string {
	return fmt.Sprintf("REPORT-%s-%s",
		now.Format("20060102-150405"),
		uuid.NewString()[:8])
}
