package knowledge

import (
	"strings"

	"github.com/abadojack/whatlanggo"
)

// UnknownLanguage 语言无法识别时的返回值
const UnknownLanguage = "unknown"

// DetectLanguage 识别文本语言，返回 ISO 639-1 代码，失败时返回 "unknown"
func DetectLanguage(text string) (code string) {
	defer func() {
		if recover() != nil {
			code = UnknownLanguage
		}
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		return UnknownLanguage
	}
	info := whatlanggo.Detect(text)
	if code = info.Lang.Iso6391(); code == "" {
		return UnknownLanguage
	}
	return code
}
