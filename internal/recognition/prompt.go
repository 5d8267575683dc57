package recognition

import (
	"fmt"
	"strings"
)

// transcribePrompt is the shared prompt used by the LLM engines. They are
// asked for a faithful transcription only; line items are parsed locally.
const transcribePrompt = `You are reading a photo of a shop receipt. Transcribe all printed text exactly as it appears.

Rules:
- Output one receipt line per output line, top to bottom
- Keep quantities, prices, currency symbols and decimal separators exactly as printed
- Keep the spacing between an item name and its price on the same line
- Do not add, correct, summarize or translate anything
- Do not include any text before or after the transcription
- Do not use markdown code blocks`

// promptFor adds the language hint to the transcription prompt
func promptFor(languageHint string) string {
	if languageHint == "" {
		return transcribePrompt
	}
	return fmt.Sprintf("%s\n- The receipt is expected to be in language %q", transcribePrompt, languageHint)
}

// cleanTranscript removes markdown code fences some models add anyway
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```text")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
