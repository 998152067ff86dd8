package parse

import "regexp"

var reDiagnosis = regexp.MustCompile(`(?im)Diagn[oó]stico[ \t]*:[ \t]*(?:\d+[ \t]*)?-?[ \t]*(\S.*?)[ \t]*$`)

// Diagnosis reads "Diagnóstico: <code> - <text>" and returns the text.
func Diagnosis(text string) (string, bool) {
	m := reDiagnosis.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	d := collapseSpaces(m[1])
	return d, d != ""
}
