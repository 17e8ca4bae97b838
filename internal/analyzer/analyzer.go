// Package analyzer turns construction site photos into structured hazard
// findings. It validates the image file, downscales oversized photos, sends
// the image to the vision model with a JSON-output prompt, and parses the
// response into a domain.AnalysisResult. Results are memoized per file
// modification time so repeated analyses of an unchanged photo are free.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/guchanghao1/zhianjian-system/internal/ai"
	"github.com/guchanghao1/zhianjian-system/internal/cache"
	"github.com/guchanghao1/zhianjian-system/internal/domain"
	"github.com/guchanghao1/zhianjian-system/internal/metrics"
	"github.com/guchanghao1/zhianjian-system/internal/sanitize"
)

const (
	// DefaultMaxImageSize rejects images larger than 10 MiB before any
	// decoding happens.
	DefaultMaxImageSize = 10 * 1024 * 1024

	// maxLongEdge bounds the longer image dimension before upload. Vision
	// models downscale internally anyway; doing it here saves bandwidth.
	maxLongEdge = 1568

	jpegQuality = 85
)

// supportedFormats maps accepted file extensions (lowercase, without dot)
// to their MIME content types.
var supportedFormats = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

const visionSystemPrompt = `你是一名专业的建筑施工安全检查员，擅长从施工现场照片中识别安全隐患。你必须以JSON格式输出分析结果。`

const visionPrompt = `请分析这张施工现场图片，识别其中的安全隐患。

重点检查以下方面：
1. 人员防护：是否佩戴安全帽、安全带、反光衣等
2. 高处作业：脚手架、临边防护、洞口防护是否规范
3. 用电安全：电线电缆、配电箱是否存在隐患
4. 机械设备：设备操作、停放是否安全
5. 材料堆放：建材堆放是否稳固、整齐
6. 消防安全：消防通道、易燃物管理

请严格按照以下JSON格式输出，不要添加其他内容：
{
  "hazards": [
    {
      "hazard_type": "隐患类型",
      "location": "隐患在图片中的位置",
      "severity": "high/medium/low",
      "description": "隐患详细描述",
      "confidence": 0.0到1.0之间的置信度
    }
  ],
  "summary": "整体安全状况概述"
}

如果图片中没有发现安全隐患，hazards返回空数组，summary说明现场状况良好。`

// Analyzer performs image hazard analysis with result memoization.
type Analyzer struct {
	vision       ai.VisionModel
	cache        *cache.Cache
	logger       *slog.Logger
	maxImageSize int64
}

// New creates an Analyzer. maxImageSize <= 0 falls back to
// DefaultMaxImageSize.
func New(vision ai.VisionModel, memo *cache.Cache, logger *slog.Logger, maxImageSize int64) *Analyzer {
	if maxImageSize <= 0 {
		maxImageSize = DefaultMaxImageSize
	}
	return &Analyzer{
		vision:       vision,
		cache:        memo,
		logger:       logger,
		maxImageSize: maxImageSize,
	}
}

// Analyze runs hazard analysis for the image at path, reusing a memoized
// result when the file has not changed since it was last analyzed.
//
// Validation failures and transport failures return a result with
// Success = false and a populated Error. A model response that cannot be
// parsed produces a degraded result with a placeholder hazard, because a
// photo the model did look at should still flow into the report.
func (a *Analyzer) Analyze(ctx context.Context, path string) domain.AnalysisResult {
	return a.analyze(ctx, path, true)
}

// AnalyzeUncached forces a fresh model call even when a memoized result
// exists. The fresh result still replaces the memoized one.
func (a *Analyzer) AnalyzeUncached(ctx context.Context, path string) domain.AnalysisResult {
	return a.analyze(ctx, path, false)
}

func (a *Analyzer) analyze(ctx context.Context, path string, useCache bool) domain.AnalysisResult {
	info, err := os.Stat(path)
	if err != nil {
		metrics.ImagesAnalyzed.WithLabelValues("invalid").Inc()
		return failure(fmt.Sprintf("图片文件不存在: %s", path))
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	contentType, ok := supportedFormats[ext]
	if !ok {
		metrics.ImagesAnalyzed.WithLabelValues("invalid").Inc()
		return failure(fmt.Sprintf("不支持的图片格式: %s，仅支持 jpg/jpeg/png", ext))
	}

	if info.Size() > a.maxImageSize {
		metrics.ImagesAnalyzed.WithLabelValues("invalid").Inc()
		return failure(fmt.Sprintf("图片文件过大: %d 字节，上限 %d 字节", info.Size(), a.maxImageSize))
	}

	cacheKey := fmt.Sprintf("multimodal_%d_%s", info.ModTime().Unix(), filepath.Base(path))
	if useCache {
		if cached, ok := a.cache.Get(cacheKey); ok {
			if result, ok := cached.(domain.AnalysisResult); ok {
				a.logger.Debug("Analysis cache hit", "key", cacheKey)
				return result
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		metrics.ImagesAnalyzed.WithLabelValues("error").Inc()
		return failure(fmt.Sprintf("读取图片失败: %v", err))
	}

	data, contentType = a.preprocess(data, contentType, path)

	raw, err := a.vision.CompleteVision(ctx, ai.VisionRequest{
		System:      visionSystemPrompt,
		Prompt:      visionPrompt,
		ImageData:   data,
		ContentType: contentType,
	})
	if err != nil {
		a.logger.Error("Vision analysis failed", "path", path, "error", err)
		metrics.ImagesAnalyzed.WithLabelValues("error").Inc()
		return failure(fmt.Sprintf("图片分析失败: %v", err))
	}

	result := parseAnalysis(raw)
	if result.Degraded {
		a.logger.Warn("Vision response unparseable, using degraded result", "path", path)
		metrics.ImagesAnalyzed.WithLabelValues("degraded").Inc()
	} else {
		metrics.ImagesAnalyzed.WithLabelValues("ok").Inc()
	}

	a.cache.Set(cacheKey, result)
	return result
}

// preprocess decodes the image and downscales it when the longer edge
// exceeds maxLongEdge, re-encoding as JPEG. Undecodable bytes are passed
// through unchanged and left for the model to reject.
func (a *Analyzer) preprocess(data []byte, contentType, path string) ([]byte, string) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		a.logger.Warn("Image decode failed, sending original bytes", "path", path, "error", err)
		return data, contentType
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxLongEdge && h <= maxLongEdge {
		return data, contentType
	}

	var resized image.Image
	if w >= h {
		resized = imaging.Resize(img, maxLongEdge, 0, imaging.Lanczos)
	} else {
		resized = imaging.Resize(img, 0, maxLongEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality}); err != nil {
		a.logger.Warn("Image re-encode failed, sending original bytes", "path", path, "error", err)
		return data, contentType
	}

	a.logger.Debug("Image downscaled", "path", path, "from", fmt.Sprintf("%dx%d", w, h))
	return buf.Bytes(), "image/jpeg"
}

// parseAnalysis converts the raw model output into an AnalysisResult. The
// model occasionally wraps JSON in a markdown fence; that is stripped
// before decoding. Anything that still fails to decode yields the degraded
// placeholder result rather than an error.
func parseAnalysis(raw string) domain.AnalysisResult {
	cleaned := stripCodeFence(sanitize.CleanText(raw))

	var payload struct {
		Hazards []domain.Hazard `json:"hazards"`
		Summary string          `json:"summary"`
	}
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return degradedResult()
	}

	hazards := make([]domain.Hazard, 0, len(payload.Hazards))
	for _, h := range payload.Hazards {
		if !h.Severity.Valid() {
			h.Severity = domain.SeverityLow
		}
		if h.Confidence < 0 {
			h.Confidence = 0
		}
		if h.Confidence > 1 {
			h.Confidence = 1
		}
		h.HazardType = sanitize.CleanText(h.HazardType)
		h.Location = sanitize.CleanText(h.Location)
		h.Description = sanitize.CleanText(h.Description)
		hazards = append(hazards, h)
	}

	return domain.AnalysisResult{
		Success: true,
		Hazards: hazards,
		Summary: sanitize.CleanText(payload.Summary),
	}
}

// degradedResult is returned when the model replied but its output could
// not be parsed. The placeholder hazard keeps the downstream report
// pipeline alive.
func degradedResult() domain.AnalysisResult {
	return domain.AnalysisResult{
		Success: true,
		Hazards: []domain.Hazard{
			{
				HazardType:  "待分析",
				Location:    "图片中",
				Severity:    domain.SeverityMedium,
				Description: "需要进一步分析",
				Confidence:  0.5,
			},
		},
		Summary:  "图片已接收",
		Degraded: true,
	}
}

func failure(msg string) domain.AnalysisResult {
	return domain.AnalysisResult{Success: false, Error: msg}
}

// stripCodeFence removes a surrounding markdown code fence if present.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
