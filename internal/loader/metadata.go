package loader

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// summaryLimit bounds the length of a description taken from prose.
const summaryLimit = 150

// PartNames maps leading chapter numbers to part titles.
var PartNames = map[int]string{
	0: "Getting Started",
	1: "Core Architecture",
	2: "Fundamental Patterns",
	3: "Clinical Data Model",
	4: "Financial Data Model",
	5: "Technical Reference",
}

// PartName returns the title of part n.
func PartName(n int) string {
	if name, ok := PartNames[n]; ok {
		return name
	}
	return "Additional Topics"
}

var (
	fileNamePattern = regexp.MustCompile(`^(\d+)-(\d+)-(.+)$`)
	headingPattern  = regexp.MustCompile(`(?m)^#[ \t]+(.+?)[ \t#]*$`)
	titlePrefix     = regexp.MustCompile(`^(?:Chapter[ \t]+\d+(?:\.\d+)*|Part[ \t]+\d+)[ \t]*:[ \t]*`)
	purposePattern  = regexp.MustCompile(`(?m)^[ \t]*[*_]Purpose:[ \t]*(.+?)[*_][ \t]*$`)
	chapterLabel    = regexp.MustCompile(`^Chapter[ \t]+(\d+(?:\.\d+)*)`)
	linkPattern     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	emphasisChars   = strings.NewReplacer("**", "", "__", "", "`", "")
)

// ParseFileName splits a chapter stem such as "02-01-patient-demographics"
// into its part and chapter numbers and slug text. Unnumbered stems return
// part -1.
func ParseFileName(stem string) (part, chapter int, name string) {
	m := fileNamePattern.FindStringSubmatch(stem)
	if m == nil {
		return -1, 0, stem
	}
	return atoi(m[1]), atoi(m[2]), m[3]
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// TitleFromSlug turns "patient-demographics" into "Patient Demographics".
func TitleFromSlug(slug string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(slug, "-", " "))
}

// ExtractTitle returns the first level-one heading without any
// "Chapter X.Y:" or "Part X:" prefix, or "".
func ExtractTitle(body string) string {
	m := headingPattern.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(titlePrefix.ReplaceAllString(m[1], ""))
}

// ExtractChapterLabel returns the "X.Y" in a "Chapter X.Y:" heading, or "".
func ExtractChapterLabel(body string) string {
	m := headingPattern.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	label := chapterLabel.FindStringSubmatch(m[1])
	if label == nil {
		return ""
	}
	return label[1]
}

// ExtractDescription returns the chapter's "*Purpose: ...*" line, or else
// its first prose paragraph truncated to 150 characters.
func ExtractDescription(body string) string {
	if m := purposePattern.FindStringSubmatch(body); m != nil {
		return clean(m[1])
	}

	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" || !isProse(para) {
			continue
		}
		return truncate(clean(strings.Join(strings.Fields(para), " ")), summaryLimit)
	}
	return ""
}

// isProse rejects headings, HTML, tables, quotes, fences, lists and images.
func isProse(para string) bool {
	for _, prefix := range []string{"#", "<", "|", ">", "```", "- ", "* ", "![", "---"} {
		if strings.HasPrefix(para, prefix) {
			return false
		}
	}
	return true
}

func clean(s string) string {
	s = linkPattern.ReplaceAllString(s, "$1")
	s = emphasisChars.Replace(s)
	return strings.Trim(strings.TrimSpace(s), "*_")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)[:limit]
	cut := string(runes)
	if i := strings.LastIndexByte(cut, ' '); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "..."
}
