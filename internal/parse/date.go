package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// BirthWindow is how many runes before a date are checked for "nacimiento".
const BirthWindow = 30

var (
	reSlashDate = regexp.MustCompile(`\b(\d{1,2})[/\-.](\d{1,2})[/\-.](\d{4}|\d{2})\b`)
	reLongDate  = regexp.MustCompile(`(?i)\b(\d{1,2})[ \t]+de[ \t]+(enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|setiembre|octubre|noviembre|diciembre)[ \t]+(?:de|del)[ \t]+(\d{4})\b`)
	reISODate   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
)

var spanishMonths = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June,
	"julio": time.July, "agosto": time.August, "septiembre": time.September,
	"setiembre": time.September, "octubre": time.October,
	"noviembre": time.November, "diciembre": time.December,
}

var issuedOnStrategies = []Strategy[string]{
	issuedOnSlash,
	issuedOnLongForm,
	issuedOnISO,
}

// IssuedOn returns the order's issuance date as YYYY-MM-DD. Dates preceded by
// "nacimiento" are the patient's birth date and are never returned.
func IssuedOn(text string) (string, bool) {
	return First(text, issuedOnStrategies)
}

func issuedOnSlash(text string) (string, bool) {
	return scanDates(text, reSlashDate, func(m []string) (string, bool) {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		return isoDate(year, time.Month(month), day)
	})
}

func issuedOnLongForm(text string) (string, bool) {
	return scanDates(text, reLongDate, func(m []string) (string, bool) {
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		return isoDate(year, spanishMonths[strings.ToLower(m[2])], day)
	})
}

func issuedOnISO(text string) (string, bool) {
	return scanDates(text, reISODate, func(m []string) (string, bool) {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return isoDate(year, time.Month(month), day)
	})
}

func scanDates(text string, re *regexp.Regexp, convert func([]string) (string, bool)) (string, bool) {
	for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
		if nearBirth(text, loc[0]) {
			continue
		}
		m := make([]string, len(loc)/2)
		for i := range m {
			if loc[2*i] >= 0 {
				m[i] = text[loc[2*i]:loc[2*i+1]]
			}
		}
		if iso, ok := convert(m); ok {
			return iso, true
		}
	}
	return "", false
}

// nearBirth looks back up to BirthWindow runes for "nacimiento", stopping at
// the end of any earlier date so a birth date never hides the next one.
func nearBirth(text string, at int) bool {
	from := previousDateEnd(text, at)
	before := []rune(text[from:at])
	if len(before) > BirthWindow {
		before = before[len(before)-BirthWindow:]
	}
	return strings.Contains(fold(string(before)), "nacimiento")
}

func previousDateEnd(text string, at int) int {
	end := 0
	for _, re := range []*regexp.Regexp{reSlashDate, reLongDate, reISODate} {
		for _, loc := range re.FindAllStringIndex(text[:at], -1) {
			if loc[1] > end {
				end = loc[1]
			}
		}
	}
	return end
}

// isoDate rejects impossible calendar dates such as 31/02.
func isoDate(year int, month time.Month, day int) (string, bool) {
	if month < time.January || month > time.December || day < 1 || year < 1900 {
		return "", false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}
