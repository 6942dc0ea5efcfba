package transcript

// LanguageBengali is the regional language tag applied to Bengali-script text
const LanguageBengali = "bn-BD"

// DetectLanguage infers a language tag for synthesized text using a script-range
// heuristic: any rune in the Bengali Unicode block implies bn-BD. Text without a
// recognized script yields an empty tag and the segment's language is left unset.
func DetectLanguage(text string) string {
	for _, r := range text {
		if r >= 0x0980 && r <= 0x09FF {
			return LanguageBengali
		}
	}
	return ""
}
