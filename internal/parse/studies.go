package parse

import (
	"regexp"
	"strings"
)

var (
	reRpMarker   = regexp.MustCompile(`(?i)^[ \t]*Rp[ \t]*\.?[ \t]*/`)
	reStudyLine  = regexp.MustCompile(`^[ \t]*(\d{2,5})[ \t]*-[ \t]*(\S.*?)[ \t]*$`)
	reDiagLine   = regexp.MustCompile(`(?i)^[ \t]*diagn[oó]stico`)
	reBullet     = regexp.MustCompile(`^[ \t]*(?:[-*•·>]+|\d{1,2}[.)])[ \t]*`)
	reStudyTerms = regexp.MustCompile(`\b(?:` + strings.Join(studyVocabulary, "|") + `)\b`)
)

// studyVocabulary is matched against accent-folded, lowercased lines.
var studyVocabulary = []string{
	"ecografia", "radiografia", "rx", "resonancia", "tomografia", "mamografia",
	"laboratorio", "hemograma", "analisis", "glucemia", "colesterol", "orina",
	"electrocardiograma", "ecocardiograma", "doppler", "densitometria", "endoscopia", "colonoscopia",
	"tsh", "tirotrofina", "hepatograma", "uremia", "creatinina", "ergometria", "holter",
}

var studiesStrategies = []Strategy[[]string]{
	studiesAfterRp,
	studiesCoded,
	studiesByKeyword,
}

// Studies lists the ordered studies. It prefers coded lines after the "Rp./"
// marker, then coded lines anywhere, then lines naming a known study.
func Studies(text string) ([]string, bool) {
	return First(text, studiesStrategies)
}

// studiesAfterRp reads the coded block under "Rp./". The block ends at the
// first non-blank line that is not a study.
func studiesAfterRp(text string) ([]string, bool) {
	ls := lines(text)
	for i, l := range ls {
		loc := reRpMarker.FindStringIndex(l)
		if loc == nil {
			continue
		}
		block := append([]string{l[loc[1]:]}, ls[i+1:]...)
		var out []string
		seen := map[string]bool{}
		for _, b := range block {
			m := reStudyLine.FindStringSubmatch(b)
			switch {
			case m != nil && !reDiagLine.MatchString(b):
				out = appendUnique(out, seen, collapseSpaces(m[2]))
			case strings.TrimSpace(b) == "" || len(out) == 0:
				continue
			default:
				return out, true
			}
		}
		return out, len(out) > 0
	}
	return nil, false
}

func studiesCoded(text string) ([]string, bool) {
	out := codedStudies(lines(text))
	return out, len(out) > 0
}

func codedStudies(ls []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, l := range ls {
		if reDiagLine.MatchString(l) {
			continue
		}
		m := reStudyLine.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		out = appendUnique(out, seen, collapseSpaces(m[2]))
	}
	return out
}

func studiesByKeyword(text string) ([]string, bool) {
	var out []string
	seen := map[string]bool{}
	for _, l := range lines(text) {
		if reDiagLine.MatchString(l) || !reStudyTerms.MatchString(fold(l)) {
			continue
		}
		s := collapseSpaces(reBullet.ReplaceAllString(l, ""))
		if s == "" {
			continue
		}
		out = appendUnique(out, seen, s)
	}
	return out, len(out) > 0
}

func appendUnique(out []string, seen map[string]bool, s string) []string {
	k := fold(s)
	if s == "" || seen[k] {
		return out
	}
	seen[k] = true
	return append(out, s)
}
