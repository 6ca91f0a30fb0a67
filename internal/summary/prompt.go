package summary

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/eternisai/saimilar/internal/locale"
	"github.com/eternisai/saimilar/internal/media"
)

const promptTemplate = `TASK: Write a gripping, SPOILER-FREE summary for the title "%s".
Data: %s

RULES:
1. One sentence capturing the MAIN SENSATION.
2. 2-3 sentences on what happens (DIRECTION/ATMOSPHERE only, NO PLOT TWISTS).
3. Describe the TONE.
4. Suggest who it is for.
5. NO SPOILERS.
6. %s

Respond ONLY with valid JSON:
{
  "summary": "...",
  "tone": "...",
  "spoiler_risk": 0.0
}`

func buildPrompt(item media.Item, lang locale.Language) (string, error) {
	item.UserRating = 0
	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("marshal item %d: %w", item.ID, err)
	}
	return fmt.Sprintf(promptTemplate, item.Title, data, lang.T(locale.SummaryLanguage)), nil
}
