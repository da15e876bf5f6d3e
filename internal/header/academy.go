package header

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Alias maps a substring of a written academy name to its canonical form.
type Alias struct {
	Keyword   string `mapstructure:"keyword" yaml:"keyword" json:"keyword"`
	Canonical string `mapstructure:"canonical" yaml:"canonical" json:"canonical"`
}

// DefaultAliases is scanned in order; earlier entries win.
var DefaultAliases = []Alias{
	{"김포각인", "김포 각인"},
	{"김포", "김포 각인"},
	{"각인", "김포 각인"},
	{"본원", "본원"},
	{"대치박기호", "본원"},
	{"박기호", "본원"},
	{"분당러셀", "분당 러셀"},
	{"분당", "분당 러셀"},
	{"러셀분당", "분당 러셀"},
	{"대치러셀", "대치 러셀"},
	{"대치", "대치 러셀"},
	{"러셀대치", "대치 러셀"},
}

// NormalizeAcademy maps a recognized academy name to its canonical form using
// DefaultAliases.
func NormalizeAcademy(academy string) string {
	return NormalizeAcademyWith(DefaultAliases, academy)
}

// NormalizeAcademyWith strips whitespace and lower-cases academy, then returns
// the canonical name of the first alias whose keyword it contains. With no
// match the input is returned unchanged.
func NormalizeAcademyWith(aliases []Alias, academy string) string {
	key := squash(academy)
	if key == "" {
		return academy
	}
	for _, a := range aliases {
		kw := squash(a.Keyword)
		if kw != "" && strings.Contains(key, kw) {
			return a.Canonical
		}
	}
	return academy
}

func squash(s string) string {
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}
