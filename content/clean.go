package content

import (
	"html"
	"regexp"
	"strings"
)

// Pre-compiled expressions for the HTML-to-text conversion. The rule set is
// fixed so cleaning the same markup always yields the same bytes.
var (
	scriptTag    = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag     = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlComments = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockClosers = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|br|blockquote|figure|figcaption)>`)
	brTags       = regexp.MustCompile(`(?i)<br\s*/?>`)
	allTags      = regexp.MustCompile(`<[^>]+>`)
	spaceRuns    = regexp.MustCompile(`[ \t]+`)
	newlineRuns  = regexp.MustCompile(`\n{3,}`)
)

// CleanHTML converts markup to plain text: script/style blocks and comments
// are removed, closing block-level tags become line breaks, remaining tags
// are stripped, entities are decoded, and whitespace is normalized. The
// result is stable under repeated cleaning.
func CleanHTML(raw string) string {
	text := scriptTag.ReplaceAllString(raw, "")
	text = styleTag.ReplaceAllString(text, "")
	text = htmlComments.ReplaceAllString(text, "")
	text = brTags.ReplaceAllString(text, "\n")
	text = blockClosers.ReplaceAllString(text, "\n")
	text = allTags.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = spaceRuns.ReplaceAllString(text, " ")
	text = trimLines(text)
	text = newlineRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func trimLines(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
