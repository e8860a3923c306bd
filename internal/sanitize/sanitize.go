// Package sanitize strips navigational boilerplate from fetched pages and
// derives filesystem-safe names from URLs.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*#]`)

// boilerplateClasses are removed when an element's class attribute matches exactly.
var boilerplateClasses = []string{
	"csh-article-content-updated csh-text-wrap csh-font-sans-light",
	"csh-markdown csh-markdown-line csh-article-content-separate csh-article-content-separate-bottom",
}

// Filename replaces every character in <>:"/\|?*# with an underscore.
func Filename(s string) string {
	return unsafeFilenameChars.ReplaceAllString(s, "_")
}

// FilenameForURL derives the archive filename for a fetched link.
func FilenameForURL(link string) string {
	name := link
	if idx := strings.Index(name, "//"); idx >= 0 {
		name = name[idx+2:]
	}
	name = strings.ReplaceAll(name, "/", "_")
	return Filename(name + "_HTML_CODE.html")
}

// CleanHTML removes the first <header> and <footer> and any element whose
// class attribute exactly matches a known boilerplate region.
func CleanHTML(raw string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("header").First().Remove()
	doc.Find("footer").First().Remove()
	for _, class := range boilerplateClasses {
		doc.Find(fmt.Sprintf("[class=%q]", class)).Remove()
	}

	out, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return out, nil
}
