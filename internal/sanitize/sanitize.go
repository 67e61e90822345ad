// Package sanitize escapes user supplied text before it is persisted.
package sanitize

import "strings"

// escaper 单次从左到右扫描，已替换的实体不会被再次转义。
var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// Escape 替换六个 HTML 敏感字符，只在写库前调用，读取时不再处理。
func Escape(text string) string {
	return escaper.Replace(text)
}
