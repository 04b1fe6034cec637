package knowledge

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
)

// defaultSeparators 按优先级排列：段落、换行、句末标点、空白
var defaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", " "}

// Chunk 表示分块后的文本结构
type Chunk struct {
	Index int
	Text  string
}

// Chunker 递归文本分块器，长度按字符(rune)计算
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// NewChunker 创建分块器
func NewChunker(chunkSize, overlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: overlap,
		separators:   defaultSeparators,
	}
}

// Size 返回目标块大小
func (c *Chunker) Size() int { return c.chunkSize }

// Overlap 返回块间重叠长度
func (c *Chunker) Overlap() int { return c.chunkOverlap }

// Split 将文本切分为多个chunk，空文本返回nil
func (c *Chunker) Split(text string) []Chunk {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := c.splitRecursive(text, c.separators)
	chunks := make([]Chunk, 0, len(pieces))
	for _, p := range pieces {
		chunks = append(chunks, Chunk{Index: len(chunks), Text: p})
	}
	return chunks
}

// splitRecursive 用当前最高优先级的分隔符切分，仍超长的片段降级到下一个分隔符
func (c *Chunker) splitRecursive(text string, separators []string) []string {
	sep := ""
	var finer []string
	for i, s := range separators {
		if strings.Contains(text, s) {
			sep = s
			finer = separators[i+1:]
			break
		}
	}

	var splits []string
	if sep == "" {
		splits = splitByLength(text, c.chunkSize)
	} else {
		splits = splitKeepSeparator(text, sep)
	}

	var final, fitting []string
	for _, s := range splits {
		if contentLen(s) <= c.chunkSize {
			fitting = append(fitting, s)
			continue
		}
		if len(fitting) > 0 {
			final = append(final, c.merge(fitting)...)
			fitting = nil
		}
		final = append(final, c.splitRecursive(s, finer)...)
	}
	if len(fitting) > 0 {
		final = append(final, c.merge(fitting)...)
	}
	return final
}

// merge 把小片段合并到不超过chunkSize的块，并在块之间保留不超过chunkOverlap的尾部
// 块末尾的空白在输出时被裁掉，因此按新片段去掉尾部空白后的长度判断能否放下
func (c *Chunker) merge(splits []string) []string {
	var docs, current []string
	total := 0
	for _, s := range splits {
		n := utf8.RuneCountInString(s)
		fit := contentLen(s)
		if total+fit > c.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for len(current) > 0 && (total > c.chunkOverlap || total+fit > c.chunkSize) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, s)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// contentLen 片段去掉尾部空白分隔符后的长度
func contentLen(s string) int {
	return utf8.RuneCountInString(strings.TrimRightFunc(s, unicode.IsSpace))
}

func splitKeepSeparator(text, sep string) []string {
	parts := strings.SplitAfter(text, sep)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitByLength(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
