package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	paragraphRe = regexp.MustCompile(`<p>(.*?)</p>`)
	codeBlockRe = regexp.MustCompile(`<pre><code(?: class="[^"]*")?>(.*?)</code></pre>`)
	tagRe       = regexp.MustCompile(`</?([a-zA-Z]+)(?:\s[^>]*)?>`)
	nameRe      = regexp.MustCompile(`</?([a-zA-Z]+)`)
	newlinesRe  = regexp.MustCompile(`\n{3,}`)
)

var supportedTags = map[string]bool{
	"b": true, "i": true, "u": true, "s": true,
	"code": true, "pre": true, "a": true, "br": true,
}

// ToTelegramHTML converts markdown reply text to Telegram-compatible HTML.
func ToTelegramHTML(src string) string {
	if src == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(src), blackfriday.WithExtensions(blackfriday.CommonExtensions)))

	html = paragraphRe.ReplaceAllString(html, "$1\n")
	html = strings.ReplaceAll(html, "<strong>", "<b>")
	html = strings.ReplaceAll(html, "</strong>", "</b>")
	html = strings.ReplaceAll(html, "<em>", "<i>")
	html = strings.ReplaceAll(html, "</em>", "</i>")
	html = codeBlockRe.ReplaceAllString(html, "<pre>$1</pre>")

	// Lists become plain bullets; Telegram has no list tags.
	html = strings.ReplaceAll(html, "<ul>", "")
	html = strings.ReplaceAll(html, "</ul>", "")
	html = strings.ReplaceAll(html, "<ol>", "")
	html = strings.ReplaceAll(html, "</ol>", "")
	html = strings.ReplaceAll(html, "<li>", "• ")
	html = strings.ReplaceAll(html, "</li>", "\n")

	// Strip everything Telegram doesn't render.
	html = tagRe.ReplaceAllStringFunc(html, func(match string) string {
		if m := nameRe.FindStringSubmatch(match); len(m) > 1 && supportedTags[m[1]] {
			return match
		}
		return ""
	})

	html = newlinesRe.ReplaceAllString(html, "\n\n")
	return strings.TrimSpace(html)
}
