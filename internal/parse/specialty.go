package parse

import (
	"regexp"
	"strings"
)

var (
	reMedicSpecialty = regexp.MustCompile(`(?i)M[eé]dic[oa][ \t]*/[ \t]*([\p{L}][\p{L} ]{2,60})`)
	reSpecialtyLabel = regexp.MustCompile(`(?im)^[ \t]*Especialidad[ \t]*:[ \t]*([\p{L}][\p{L} ]{2,60})`)
)

var specialtyStrategies = []Strategy[string]{
	func(text string) (string, bool) { return specialtyFrom(reMedicSpecialty, text) },
	func(text string) (string, bool) { return specialtyFrom(reSpecialtyLabel, text) },
}

// Specialty matches "Médico / <specialty>", then an "Especialidad:" label.
func Specialty(text string) (string, bool) {
	return First(text, specialtyStrategies)
}

func specialtyFrom(re *regexp.Regexp, text string) (string, bool) {
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", false
	}
	s := text[loc[2]:loc[3]]
	// "Clínica Médica Fecha: ..." - the last word is the next label
	if strings.HasPrefix(strings.TrimLeft(text[loc[3]:], " \t"), ":") {
		if i := strings.LastIndexAny(strings.TrimRight(s, " \t"), " \t"); i >= 0 {
			s = s[:i]
		} else {
			s = ""
		}
	}
	s = collapseSpaces(s)
	return s, s != ""
}
