package knowledge

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
)

// FileParser 非PDF/图片文档的文本解析器
type FileParser interface {
	Parse(reader io.Reader) (string, error)
}

// TextParser 纯文本解析器
type TextParser struct{}

func (p *TextParser) Parse(reader io.Reader) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	return string(content), nil
}

// WordParser docx解析器
type WordParser struct{}

func (p *WordParser) Parse(reader io.Reader) (string, error) {
	docBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取Word文件失败: %w", err)
	}

	doc, err := document.Read(bytes.NewReader(docBytes), int64(len(docBytes)))
	if err != nil {
		return "", fmt.Errorf("解析Word文档失败: %w", err)
	}
	defer doc.Close()

	// 段落之间空一行，便于分块器按段落切分
	var paragraphs []string
	for _, para := range doc.Paragraphs() {
		var line strings.Builder
		for _, run := range para.Runs() {
			line.WriteString(run.Text())
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			paragraphs = append(paragraphs, s)
		}
	}
	return strings.Join(paragraphs, "\n\n"), nil
}

// ExcelParser xlsx解析器，每行输出为制表符分隔
type ExcelParser struct{}

func (p *ExcelParser) Parse(reader io.Reader) (string, error) {
	excelBytes, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取Excel文件失败: %w", err)
	}

	ss, err := spreadsheet.Read(bytes.NewReader(excelBytes), int64(len(excelBytes)))
	if err != nil {
		return "", fmt.Errorf("解析Excel文档失败: %w", err)
	}
	defer ss.Close()

	var textBuilder strings.Builder
	for _, sheet := range ss.Sheets() {
		textBuilder.WriteString(sheet.Name())
		textBuilder.WriteString("\n")
		for _, row := range sheet.Rows() {
			var rowText []string
			for _, cell := range row.Cells() {
				rowText = append(rowText, cell.GetString())
			}
			if len(rowText) > 0 {
				textBuilder.WriteString(strings.Join(rowText, "\t"))
				textBuilder.WriteString("\n")
			}
		}
		textBuilder.WriteString("\n")
	}
	return textBuilder.String(), nil
}

func defaultParsers() map[string]FileParser {
	text := &TextParser{}
	return map[string]FileParser{
		"text/plain":    text,
		"text/markdown": text,
		ContentTypeDOCX: &WordParser{},
		ContentTypeXLSX: &ExcelParser{},
	}
}

// SupportedContentTypes 返回可抽取文本的内容类型
func SupportedContentTypes() []string {
	types := []string{ContentTypePDF}
	for ct := range imageContentTypes {
		types = append(types, ct)
	}
	for ct := range defaultParsers() {
		types = append(types, ct)
	}
	return types
}

// IsSupportedContentType 判断内容类型能否进入处理流水线
func IsSupportedContentType(contentType string) bool {
	ct := normalizeContentType(contentType)
	if ct == ContentTypePDF || imageContentTypes[ct] {
		return true
	}
	_, ok := defaultParsers()[ct]
	return ok
}
