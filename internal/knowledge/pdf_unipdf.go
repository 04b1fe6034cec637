package knowledge

import (
	"bytes"
	"fmt"
	"image"
	"sync"

	"github.com/unidoc/unipdf/v3/common/license"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
	"github.com/unidoc/unipdf/v3/render"
)

var licenseOnce sync.Once

// SetPDFLicense 设置 unipdf 计量授权，进程内只生效一次
func SetPDFLicense(key string) error {
	var err error
	licenseOnce.Do(func() {
		if key != "" {
			err = license.SetMeteredKey(key)
		}
	})
	return err
}

// unipdfDocument 基于 unipdf 的PDF页面访问
type unipdfDocument struct {
	reader *model.PdfReader
	pages  int
}

func openUnipdf(data []byte) (pdfDocument, error) {
	reader, err := model.NewPdfReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解析PDF失败: %w", err)
	}

	encrypted, err := reader.IsEncrypted()
	if err != nil {
		return nil, err
	}
	if encrypted {
		// 只尝试空口令
		ok, err := reader.Decrypt([]byte(""))
		if err != nil || !ok {
			return nil, fmt.Errorf("PDF已加密，无法解密")
		}
	}

	numPages, err := reader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("获取PDF页数失败: %w", err)
	}
	return &unipdfDocument{reader: reader, pages: numPages}, nil
}

func (d *unipdfDocument) NumPages() int {
	return d.pages
}

func (d *unipdfDocument) PageText(page int) (string, error) {
	p, err := d.reader.GetPage(page + 1)
	if err != nil {
		return "", err
	}
	ex, err := extractor.New(p)
	if err != nil {
		return "", err
	}
	return ex.ExtractText()
}

// RenderPage 以72dpi为基准按倍率渲染页面
func (d *unipdfDocument) RenderPage(page int, zoom float64) (image.Image, error) {
	p, err := d.reader.GetPage(page + 1)
	if err != nil {
		return nil, err
	}
	box, err := p.GetMediaBox()
	if err != nil {
		return nil, err
	}

	device := render.NewImageDevice()
	device.OutputWidth = int(box.Width() * zoom)
	return device.Render(p)
}
