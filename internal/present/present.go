// Package present turns classifier output into display strings.
package present

import (
	"fmt"
	"math"
	"strings"

	"github.com/lehigh-university-libraries/birdid/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Number of runner-up predictions shown below the headline
const runnersUp = 3

// Entry is a single formatted prediction
type Entry struct {
	Label   string  `json:"label"`
	RawName string  `json:"raw_label"`
	Score   float64 `json:"score"`
	Percent string  `json:"percent"`
	Bar     int     `json:"bar"` // width in percent, 0-100
}

// View is the rendered form of a classification result
type View struct {
	Headline *Entry  `json:"headline,omitempty"`
	Others   []Entry `json:"others"`
}

// FormatLabel converts a model label such as "bald_eagle" into "Bald Eagle"
func FormatLabel(label string) string {
	words := strings.Fields(strings.ReplaceAll(label, "_", " "))
	caser := cases.Title(language.English)
	return caser.String(strings.ToLower(strings.Join(words, " ")))
}

// NormalizeLabel gives a comparison key that ignores case, underscores and spacing
func NormalizeLabel(label string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(label, "_", " ")), " "))
}

// ClampScore bounds a score to [0,1]
func ClampScore(score float64) float64 {
	switch {
	case math.IsNaN(score), score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}

// FormatPercent renders a score as a percentage with the given number of decimals
func FormatPercent(score float64, precision int) string {
	if precision < 0 {
		precision = 0
	}
	return fmt.Sprintf("%.*f%%", precision, ClampScore(score)*100)
}

// Build creates the headline and runner-up entries for a result
func Build(result models.ClassificationResult, precision int) View {
	view := View{Others: []Entry{}}
	for i, p := range result.Predictions {
		if i > runnersUp {
			break
		}
		entry := newEntry(p, precision)
		if i == 0 {
			view.Headline = &entry
			continue
		}
		view.Others = append(view.Others, entry)
	}
	return view
}

func newEntry(p models.Prediction, precision int) Entry {
	score := ClampScore(p.Score)
	return Entry{
		Label:   FormatLabel(p.Label),
		RawName: p.Label,
		Score:   score,
		Percent: FormatPercent(score, precision),
		Bar:     int(score*100 + 0.5),
	}
}
