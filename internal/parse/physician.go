package parse

import (
	"regexp"
	"strings"
)

var (
	reTitleLine   = regexp.MustCompile(`(?m)^[ \t]*(?i:dra?)\.[ \t]*([\p{L}][\p{L}.' ]{2,49}?)[ \t]*$`)
	reTitleAny    = regexp.MustCompile(`(?:^|[^\p{L}])(?i:dra?)\.[ \t]*(\p{Lu}[\p{L}']+(?:[ \t]+\p{Lu}[\p{L}']+){0,3})`)
	reRequester   = regexp.MustCompile(`(?im)M[eé]dic[oa](?:\(a\))?[ \t]+solicitante[ \t]*:[ \t]*(.+)$`)
	reLicenceName = regexp.MustCompile(`(?im)\bM\.?[ \t]?[PN]\.?[ \t]*:?[ \t]*\d+[ \t]*-[ \t]*([\p{L}][\p{L}.' ]{2,60})$`)
	reProfesional = regexp.MustCompile(`(?im)Profesional[ \t]*:[ \t]*(.+)$`)
	reLeadTitle   = regexp.MustCompile(`(?i)^(?:dra?\.?|doctora?)[ \t]+`)
)

var physicianStrategies = []Strategy[string]{
	physicianTitleLine,
	physicianTitleAnywhere,
	physicianRequester,
	physicianLicence,
	physicianProfesional,
}

// Physician returns the issuing physician with the title stripped.
func Physician(text string) (string, bool) {
	return First(text, physicianStrategies)
}

func physicianTitleLine(text string) (string, bool)    { return capture(reTitleLine, text) }
func physicianTitleAnywhere(text string) (string, bool) { return capture(reTitleAny, text) }
func physicianRequester(text string) (string, bool)     { return capture(reRequester, text) }
func physicianLicence(text string) (string, bool)       { return capture(reLicenceName, text) }
func physicianProfesional(text string) (string, bool)   { return capture(reProfesional, text) }

func capture(re *regexp.Regexp, text string) (string, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	name := cleanName(m[1])
	return name, len([]rune(name)) >= 3
}

func cleanName(s string) string {
	s = collapseSpaces(s)
	for {
		stripped := reLeadTitle.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.Trim(s, " .,;:-")
}
