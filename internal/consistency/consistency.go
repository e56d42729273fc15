// Package consistency decides whether a lip-reading transcript and a
// speech-to-text transcript describe the same utterance.
package consistency

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// Label is the verdict on a video.
type Label string

const (
	Real Label = "Real"
	Fake Label = "Fake"
)

// Threshold is the similarity score a pair must exceed to be judged Real.
const Threshold = 50.0

// Result is the classifier output. Score is the confidence in Label, in
// [0, 100]; Similarity is the raw agreement before inversion.
type Result struct {
	Label      Label   `json:"label"`
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
}

// FormattedScore renders Score with two decimals.
func (r Result) FormattedScore() string {
	return fmt.Sprintf("%.2f", r.Score)
}

// Similarity returns the Ratcliff/Obershelp ratio of a and b over Unicode
// code points, scaled to [0, 100]. Two empty strings are identical.
func Similarity(a, b string) float64 {
	m := difflib.NewMatcher(runes(a), runes(b))
	return m.Ratio() * 100
}

// Classify scores the agreement of the two transcripts. Above Threshold the
// pair is Real with the similarity as its score; otherwise it is Fake and the
// score is inverted so it expresses confidence in Fake.
func Classify(lipText, speechText string) Result {
	sim := Similarity(lipText, speechText)
	if sim > Threshold {
		return Result{Label: Real, Score: sim, Similarity: sim}
	}
	return Result{Label: Fake, Score: 100 - sim, Similarity: sim}
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
