package knowledge

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// OCREngine 文字识别接口，输入为编码后的图片字节
type OCREngine interface {
	Recognize(ctx context.Context, data []byte) (string, error)
	Ready() bool
}

// NoopOCR 默认占位实现
type NoopOCR struct{}

func (NoopOCR) Recognize(ctx context.Context, data []byte) (string, error) {
	return "", errors.New("ocr engine not configured")
}

func (NoopOCR) Ready() bool {
	return false
}

// TesseractOCR 基于 tesseract 的OCR实现。
// gosseract.Client 不是并发安全的，调用需串行化。
type TesseractOCR struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseractOCR 创建OCR引擎，languages 为 tesseract 语言包名，如 "eng"
func NewTesseractOCR(languages ...string) (*TesseractOCR, error) {
	client := gosseract.NewClient()
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	if err := client.SetLanguage(languages...); err != nil {
		client.Close()
		return nil, err
	}
	return &TesseractOCR{client: client}, nil
}

func (t *TesseractOCR) Recognize(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(data); err != nil {
		return "", err
	}
	return t.client.Text()
}

func (t *TesseractOCR) Ready() bool {
	return t.client != nil
}

// Close 释放tesseract资源
func (t *TesseractOCR) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}

// EnhanceForOCR 灰度化、提高对比度并自动拉伸色阶
func EnhanceForOCR(img image.Image) image.Image {
	gray := imaging.Grayscale(img)
	contrasted := imaging.AdjustContrast(gray, 50)
	return autoContrast(contrasted)
}

// autoContrast 把灰度直方图线性拉伸到 0-255
func autoContrast(img *image.NRGBA) *image.NRGBA {
	lo, hi := uint8(255), uint8(0)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := img.NRGBAAt(x, y).R
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	if hi <= lo {
		return img
	}

	scale := 255.0 / float64(hi-lo)
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		stretch := func(v uint8) uint8 {
			if v <= lo {
				return 0
			}
			if v >= hi {
				return 255
			}
			return uint8(float64(v-lo)*scale + 0.5)
		}
		return color.NRGBA{R: stretch(c.R), G: stretch(c.G), B: stretch(c.B), A: c.A}
	})
}
