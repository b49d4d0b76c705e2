package stt

import (
	"strings"

	"github.com/goccy/go-json"
)

// resultLine mirrors the part of a result record we read. Pointers tell a
// missing field apart from an empty one.
type resultLine struct {
	Result *struct {
		FinalRefinement *struct {
			NormalizedText *struct {
				Alternatives []struct {
					Text *string `json:"text"`
				} `json:"alternatives"`
			} `json:"normalizedText"`
		} `json:"finalRefinement"`
	} `json:"result"`
}

// DecodeLine extracts result.finalRefinement.normalizedText.alternatives[0].text
// from one raw line. ok is false when the line is not JSON of that shape.
func DecodeLine(line string) (text string, ok bool) {
	var rec resultLine
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return "", false
	}
	if rec.Result == nil || rec.Result.FinalRefinement == nil || rec.Result.FinalRefinement.NormalizedText == nil {
		return "", false
	}
	alts := rec.Result.FinalRefinement.NormalizedText.Alternatives
	if len(alts) == 0 || alts[0].Text == nil {
		return "", false
	}
	return *alts[0].Text, true
}

// Decode concatenates the text of every decodable line in order, with no
// separator. Lines that do not decode are skipped.
func Decode(lines []string) string {
	text, _ := decode(lines)
	return text
}

func decode(lines []string) (string, int) {
	var b strings.Builder
	decoded := 0
	for _, line := range lines {
		text, ok := DecodeLine(line)
		if !ok {
			continue
		}
		b.WriteString(text)
		decoded++
	}
	return b.String(), decoded
}
