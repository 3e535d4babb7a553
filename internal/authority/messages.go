package authority

import (
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	xmlMessagePattern  = regexp.MustCompile(`(?s)<(?:[\w-]+:)?(Mensagem|Descricao)(?:\s[^>]*[^/>])?\s*>(.*?)</(?:[\w-]+:)?(?:Mensagem|Descricao)\s*>`)
	jsonMessagePattern = regexp.MustCompile(`"(?:Mensagem|Descricao)"\s*:\s*("(?:[^"\\]|\\.)*")`)
	innerTagPattern    = regexp.MustCompile(`<[^>]*>`)
)

type positioned struct {
	at   int
	text string
}

// extractMessages is a lenient scan; it never fails on malformed bodies
func extractMessages(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	var found []positioned

	for _, m := range xmlMessagePattern.FindAllSubmatchIndex(body, -1) {
		inner := string(body[m[4]:m[5]])
		inner = innerTagPattern.ReplaceAllString(inner, "")
		found = append(found, positioned{at: m[0], text: html.UnescapeString(inner)})
	}
	for _, m := range jsonMessagePattern.FindAllSubmatchIndex(body, -1) {
		quoted := string(body[m[2]:m[3]])
		text, err := strconv.Unquote(quoted)
		if err != nil {
			text = strings.Trim(quoted, `"`)
		}
		found = append(found, positioned{at: m[0], text: text})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].at < found[j].at })

	var out []string
	for _, f := range found {
		if text := strings.Join(strings.Fields(f.text), " "); text != "" {
			out = append(out, text)
		}
	}
	return out
}
