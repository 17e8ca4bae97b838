package report

import (
	"fmt"
	"strings"

	"github.com/guchanghao1/zhianjian-system/internal/domain"
)

// FormatForDisplay renders a report as markdown for chat display. Failed
// reports collapse to a one-line failure message.
func FormatForDisplay(report domain.ReportData) string {
	if report.Failed {
		msg := report.Error
		if msg == "" {
			msg = "未知错误"
		}
		return fmt.Sprintf("报告生成失败：%s", msg)
	}

	lines := []string{
		fmt.Sprintf("# %s", report.Title),
		fmt.Sprintf("**报告编号**：%s", report.ReportID),
		fmt.Sprintf("**生成日期**：%s", report.GenerateDate),
	}

	if report.Company != "" {
		lines = append(lines, fmt.Sprintf("**公司名称**：%s", report.Company))
	}

	lines = append(lines, fmt.Sprintf("\n## 整体风险评估：%s", report.OverallRisk.Label()))

	for _, s := range report.Sections {
		lines = append(lines, fmt.Sprintf("\n## %s", s.Name), s.Content)
	}

	return strings.Join(lines, "\n")
}
