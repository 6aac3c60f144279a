package textnorm

import "strings"

// encodingRepairs maps backtick corruptions produced by some PDF encoders
// for Croatian diacritics back to the intended words. Earlier entries win
// when two keys match at the same position.
var encodingRepairs = []struct{ from, to string }{
	{"promjec`enom", "promijećenom"},
	{"zivotnic`ki", "životnički"},
	{"ugro`enosti", "ugroženosti"},
	{"ukljuc`eni", "uključeni"},
	{"kolic`ina", "količina"},
	{"kljuc`ni", "ključni"},
	{"zastup`en", "zastupljen"},
	{"poznaca`", "poznaća"},
	{"u`inak", "učinak"},
	{"`esto", "često"},
	{"c`ini", "čini"},
	{"vec`i", "veći"},
	{"`ita", "čita"},
	{"`iji", "čiji"},
	{"`ak", "čak"},
	{"u`e", "uče"},
	{"c`e", "će"},
}

var repairer = func() *strings.Replacer {
	pairs := make([]string, 0, 2*len(encodingRepairs))
	for _, r := range encodingRepairs {
		pairs = append(pairs, r.from, r.to)
	}
	return strings.NewReplacer(pairs...)
}()

// RepairEncoding restores known diacritic corruptions. It runs once during
// document assembly, never inside the normalizers.
func RepairEncoding(text string) string {
	if !strings.Contains(text, "`") {
		return text
	}
	return repairer.Replace(text)
}
