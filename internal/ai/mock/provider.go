// Package mock provides an ai.Provider for testing and development.
package mock

import (
	"context"
	"log/slog"
	"sync"

	"github.com/guchanghao1/zhianjian-system/internal/ai"
)

// Provider is a mock AI provider with configurable responses and call
// tracking. Safe for concurrent use in tests.
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing
	CompleteResponse       string
	CompleteError          error
	CompleteVisionResponse string
	CompleteVisionError    error

	// CompleteFunc, when set, takes precedence over the static response.
	CompleteFunc func(req ai.CompletionRequest) (string, error)

	// Call tracking for testing
	CompleteCalls       int
	CompleteVisionCalls int
}

// New creates a new mock provider.
func New(logger *slog.Logger) *Provider {
	return &Provider{logger: logger}
}

// Complete returns the configured chat response.
func (p *Provider) Complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls++

	if p.CompleteFunc != nil {
		return p.CompleteFunc(req)
	}
	if p.CompleteError != nil {
		return "", p.CompleteError
	}
	if p.CompleteResponse != "" {
		return p.CompleteResponse, nil
	}
	return "模拟回复：已根据提供的隐患信息生成内容。", nil
}

// CompleteVision returns the configured vision response. The default is a
// well-formed hazard analysis payload so development flows exercise the
// full report pipeline.
func (p *Provider) CompleteVision(ctx context.Context, req ai.VisionRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteVisionCalls++

	if p.CompleteVisionError != nil {
		return "", p.CompleteVisionError
	}
	if p.CompleteVisionResponse != "" {
		return p.CompleteVisionResponse, nil
	}
	return `{
  "success": true,
  "hazards": [
    {
      "hazard_type": "未佩戴安全帽",
      "location": "图片左侧脚手架附近",
      "severity": "high",
      "description": "一名工人未按规定佩戴安全帽",
      "confidence": 0.95
    },
    {
      "hazard_type": "脚手架缺少防护栏",
      "location": "图片右上方作业平台",
      "severity": "medium",
      "description": "作业平台外侧未安装防护栏杆",
      "confidence": 0.82
    }
  ],
  "summary": "现场检测到2项安全隐患，需要及时整改"
}`, nil
}

// Reset clears call counters and custom responses for testing.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = 0
	p.CompleteVisionCalls = 0
	p.CompleteResponse = ""
	p.CompleteError = nil
	p.CompleteVisionResponse = ""
	p.CompleteVisionError = nil
	p.CompleteFunc = nil
}
