package knowledge

import (
	"bytes"
	"context"
	"image"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/aihub/docsearch/internal/logger"
	"github.com/aihub/docsearch/internal/metrics"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	DefaultPageTextThreshold = 50
	DefaultDocTextThreshold  = 30

	// firstPassZoom 首轮OCR的渲染倍率
	firstPassZoom = 2.0
)

var defaultZoomLevels = []float64{2, 3, 4}

var imageContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/tiff": true,
	"image/bmp":  true,
	"image/webp": true,
	"image/gif":  true,
}

// IsImageContentType 判断是否为可直接OCR的图片类型
func IsImageContentType(contentType string) bool {
	return imageContentTypes[strings.ToLower(contentType)]
}

// pdfDocument PDF页面访问抽象，页码从0开始
type pdfDocument interface {
	NumPages() int
	PageText(page int) (string, error)
	RenderPage(page int, zoom float64) (image.Image, error)
}

type pdfOpener func(data []byte) (pdfDocument, error)

// ExtractorOptions 文本抽取配置
type ExtractorOptions struct {
	PageTextThreshold int
	DocTextThreshold  int
	ZoomLevels        []float64
}

// Extractor 文本抽取器：原生文本层优先，不足时回退到OCR。
// 任何内部错误都只会产生空文本，不会向上返回错误。
type Extractor struct {
	ocr     OCREngine
	openPDF pdfOpener
	parsers map[string]FileParser
	opts    ExtractorOptions
}

// NewExtractor 创建文本抽取器
func NewExtractor(ocr OCREngine, opts ExtractorOptions) *Extractor {
	if opts.PageTextThreshold <= 0 {
		opts.PageTextThreshold = DefaultPageTextThreshold
	}
	if opts.DocTextThreshold <= 0 {
		opts.DocTextThreshold = DefaultDocTextThreshold
	}
	if len(opts.ZoomLevels) == 0 {
		opts.ZoomLevels = defaultZoomLevels
	}
	if ocr == nil {
		ocr = NoopOCR{}
	}
	return &Extractor{
		ocr:     ocr,
		openPDF: openUnipdf,
		parsers: defaultParsers(),
		opts:    opts,
	}
}

// ExtractText 根据内容类型抽取文本
func (e *Extractor) ExtractText(ctx context.Context, data []byte, contentType string) string {
	contentType = normalizeContentType(contentType)

	switch {
	case contentType == ContentTypePDF:
		return e.extractPDF(ctx, data)
	case IsImageContentType(contentType):
		return e.recognize(ctx, data)
	}

	if parser, ok := e.parsers[contentType]; ok {
		text, err := parser.Parse(bytes.NewReader(data))
		if err != nil {
			logger.Warn("document parse failed", zap.String("content_type", contentType), zap.Error(err))
			return ""
		}
		return text
	}

	logger.Warn("unsupported content type", zap.String("content_type", contentType))
	return ""
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte) string {
	doc, err := e.openPDF(data)
	if err != nil {
		logger.Warn("failed to open pdf", zap.Error(err))
		return ""
	}

	pages := make([]string, doc.NumPages())
	for i := range pages {
		pages[i] = e.firstPass(ctx, doc, i)
	}
	text := strings.Join(pages, "\n")

	if len(strings.TrimSpace(text)) >= e.opts.DocTextThreshold {
		return text
	}

	logger.Info("pdf text below threshold, running enhanced OCR pass",
		zap.Int("pages", len(pages)),
		zap.Int("chars", len(strings.TrimSpace(text))))

	enhanced := make([]string, len(pages))
	for i := range enhanced {
		enhanced[i] = e.enhancedPass(ctx, doc, i)
	}
	if stronger := strings.Join(enhanced, "\n"); strings.TrimSpace(stronger) != "" {
		return stronger
	}
	return text
}

// firstPass 原生文本层不足阈值时渲染页面并OCR
func (e *Extractor) firstPass(ctx context.Context, doc pdfDocument, page int) string {
	native, err := doc.PageText(page)
	if err != nil {
		logger.Debug("page text extraction failed", zap.Int("page", page+1), zap.Error(err))
		native = ""
	}
	if countNonSpace(native) >= e.opts.PageTextThreshold {
		return native
	}

	metrics.OCRPageFallbacks.Inc()
	img, err := doc.RenderPage(page, firstPassZoom)
	if err != nil {
		img, err = doc.RenderPage(page, 1)
	}
	if err != nil {
		logger.Debug("page render failed", zap.Int("page", page+1), zap.Error(err))
		return native
	}

	if ocrText := e.recognizeImage(ctx, img); strings.TrimSpace(ocrText) != "" {
		return ocrText
	}
	return native
}

// enhancedPass 逐级放大并增强对比度，首个非空结果即停止
func (e *Extractor) enhancedPass(ctx context.Context, doc pdfDocument, page int) string {
	for _, zoom := range e.opts.ZoomLevels {
		if ctx.Err() != nil {
			return ""
		}
		img, err := doc.RenderPage(page, zoom)
		if err != nil {
			continue
		}
		if text := strings.TrimSpace(e.recognizeImage(ctx, EnhanceForOCR(img))); text != "" {
			return text
		}
	}
	return ""
}

func (e *Extractor) recognizeImage(ctx context.Context, img image.Image) string {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		logger.Debug("encode page image failed", zap.Error(err))
		return ""
	}
	return e.recognize(ctx, buf.Bytes())
}

func (e *Extractor) recognize(ctx context.Context, data []byte) string {
	text, err := e.ocr.Recognize(ctx, data)
	if err != nil {
		logger.Warn("ocr failed", zap.Error(err))
		return ""
	}
	return text
}

// normalizeContentType 去掉 ";charset=..." 等参数并转小写
func normalizeContentType(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return contentType
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
