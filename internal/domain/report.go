package domain

// RiskLevel is the aggregate risk classification of a whole report.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// Label returns the human-readable Chinese label for a risk level.
func (r RiskLevel) Label() string {
	switch r {
	case RiskHigh:
		return "高风险"
	case RiskMedium:
		return "中风险"
	default:
		return "低风险"
	}
}

// Advice returns the remediation urgency associated with a risk level.
func (r RiskLevel) Advice() string {
	switch r {
	case RiskHigh:
		return "立即整改"
	case RiskMedium:
		return "限期整改"
	default:
		return "注意防范"
	}
}

// ReportTemplateSections is the fixed ordered list of section names every
// full report contains. The composer generates them in exactly this order.
var ReportTemplateSections = []string{
	"隐患概述",
	"风险等级评估",
	"隐患详细描述",
	"整改建议",
	"预防措施",
	"相关法规依据",
}

// DefaultReportTitle is used when metadata provides no title.
const DefaultReportTitle = "施工现场安全评估报告"

// ReportSection is one named block of narrative report content.
type ReportSection struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ReportData is a composed safety assessment report. Created once per
// generation call and never mutated afterwards; the exporter only reads it.
type ReportData struct {
	ReportID     string          `json:"report_id"`
	Title        string          `json:"title"`
	Company      string          `json:"company,omitempty"`
	GenerateDate string          `json:"generate_date"`
	OverallRisk  RiskLevel       `json:"overall_risk"`
	Sections     []ReportSection `json:"sections"`

	// Failed carries an explicit failure marker when report generation
	// could not run at all. Display formatting returns a one-line
	// failure message for such reports.
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Section returns the content of the named section and whether it exists.
func (r *ReportData) Section(name string) (string, bool) {
	for _, s := range r.Sections {
		if s.Name == name {
			return s.Content, true
		}
	}
	return "", false
}

// ReportMeta carries caller-supplied report metadata.
type ReportMeta struct {
	Title   string
	Company string
	Date    string
}
