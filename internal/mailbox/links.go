package mailbox

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	reCallToAction = regexp.MustCompile(`(?i)Prescripci[oó]n del d[ií]a`)
	reDocumentURL  = regexp.MustCompile(`https?://consultoriodigital2\.osde\.com\.ar/documento\?hash=[a-zA-Z0-9_\-]+`)
)

// ExtractLinks finds document links in a notification body: call-to-action
// anchors first, then direct document-host URLs when no anchor matched.
// The result is deduplicated and keeps first-seen order.
func ExtractLinks(body string) []string {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	links := anchorLinks(body)
	if len(links) == 0 {
		links = reDocumentURL.FindAllString(html.UnescapeString(body), -1)
	}
	return dedupe(links)
}

// anchorLinks returns hrefs of anchors whose text is the call to action. The
// HTML parser decodes entities in attribute values.
func anchorLinks(body string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if !reCallToAction.MatchString(s.Text()) {
			return
		}
		if href := strings.TrimSpace(s.AttrOr("href", "")); href != "" {
			out = append(out, href)
		}
	})
	return out
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
