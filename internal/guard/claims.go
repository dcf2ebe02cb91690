package guard

import (
	"regexp"
	"strings"
)

// citationPattern strips citation decorations like "[1]", "[2, 3]" or
// "(source: a.md)" so claim text presented to the verifier is clean
// prose, not punctuation the NLI model might misread as content.
var citationPattern = regexp.MustCompile(`\[\d+(?:\s*,\s*\d+)*\]|\(source:[^)]*\)`)

// sentenceSplitPattern segments on sentence-ending punctuation followed
// by whitespace and a capital letter or end of string. Deliberately
// simple: deterministic segmentation, not a full sentence tokenizer.
var sentenceSplitPattern = regexp.MustCompile(`(?:[.!?])\s+`)

// ExtractClaims splits text into atomic factual claims: citation
// decorations are stripped first, then the result is segmented into
// sentences. Empty and whitespace-only fragments are dropped.
func ExtractClaims(text string) []string {
	cleaned := citationPattern.ReplaceAllString(text, "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil
	}

	// The "Exact: <value>" line from the prompt contract (spec §6.4) is
	// a verbatim citation, not a claim in its own right; it rides along
	// with the sentence it supports rather than being checked standalone.
	lines := strings.Split(cleaned, "\n")
	var kept []string
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "Exact:") {
			continue
		}
		kept = append(kept, line)
	}
	cleaned = strings.Join(kept, " ")

	parts := sentenceSplitPattern.Split(cleaned, -1)
	claims := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		claims = append(claims, p)
	}
	return claims
}
