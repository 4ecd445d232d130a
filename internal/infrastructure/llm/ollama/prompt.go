package ollama

import "unicode/utf8"

const maxReportChars = 12000

func buildAnalysisPrompt(reportText string) string {
	snippet := reportText
	if len(snippet) > maxReportChars {
		// Back off to a rune boundary so truncation never emits a torn
		// multi-byte sequence.
		cut := maxReportChars
		for cut > 0 && !utf8.RuneStart(snippet[cut]) {
			cut--
		}
		snippet = snippet[:cut]
	}

	return `You are a helpful and positive AI health assistant. Analyze the following health report text.
Based on the metrics provided, generate a health score from 0 to 100, where 100 represents perfect health.
Also, provide a list of 3-5 general actionable suggestions for improvement.
Finally, create a detailed 14-day action plan with a unique, encouraging title per day and 2-3 specific daily tasks.

Return a strict JSON object with exactly these keys:
healthScore (integer 0-100),
generalSuggestions (array of {"suggestion": string, "completed": false}),
dailyPlan (array of {"day": integer 1-14, "title": string, "tasks": array of {"task": string, "completed": false}}).
No markdown, no extra keys.

Health Report Text:
---
` + snippet + `
---`
}
