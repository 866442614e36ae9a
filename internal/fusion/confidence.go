package fusion

import (
	"regexp"
	"strconv"
	"strings"
)

// MaxConfidence is the upper bound of the confidence scale.
const MaxConfidence = 10.0

const number = `([\-−－]?[0-9０-９]+(?:[.．][0-9０-９]+)?)`

// ws matches ASCII and Unicode whitespace, including the ideographic space.
const ws = `[\s\p{Z}]`

// confidencePatterns are tried in order; within a pattern, matches are tried
// left to right. The first match that parses as a number wins.
var confidencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)信心[：:\s\p{Z}]*` + number + `[/／]?(?:10|１０)?`),
	regexp.MustCompile(`(?i)confidence[：:\s\p{Z}]*` + number + `[/／]?(?:10|１０)?`),
	regexp.MustCompile(`(?i)[（(]` + ws + `*信心[：:\s\p{Z}]*` + number + `(?:` + ws + `*[/／]` + ws + `*(?:10|１０))?` + ws + `*[）)]`),
	regexp.MustCompile(`(?i)[（(]` + ws + `*confidence[：:\s\p{Z}]*` + number + `(?:` + ws + `*[/／]` + ws + `*(?:10|１０))?` + ws + `*[）)]`),
	regexp.MustCompile(`(?i)(?:信心|confidence)[^0-9０-９]*?` + number + ws + `*[/／]` + ws + `*(?:10|１０)`),
}

var widthNormalizer = strings.NewReplacer(
	"０", "0", "１", "1", "２", "2", "３", "3", "４", "4",
	"５", "5", "６", "6", "７", "7", "８", "8", "９", "9",
	"．", ".", "−", "-", "－", "-",
)

// ParseConfidence scans text for a confidence value on a 0-10 scale.
// It returns false when no pattern yields a number. Values outside [0,10] are
// clamped, so "confidence 12/10" reads as 10 and "confidence -1/10" as 0.
func ParseConfidence(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}

	for _, pattern := range confidencePatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			if len(match) < 2 {
				continue
			}
			value, err := strconv.ParseFloat(widthNormalizer.Replace(match[1]), 64)
			if err != nil {
				continue
			}
			return clamp(value, 0, MaxConfidence), true
		}
	}

	return 0, false
}
