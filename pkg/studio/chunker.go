package studio

import (
	"strings"
)

// ScriptSegment is one chunk of a long-form script with its estimated
// narration time.
type ScriptSegment struct {
	Index            int
	Text             string
	EstimatedSeconds float64
}

// sentence terminators for the chunker split.
const sentenceTerminators = ".!?"

// splitSentences breaks a script at sentence boundaries, keeping the
// terminator with its sentence. Whitespace-only pieces are dropped.
func splitSentences(script string) []string {
	var sentences []string
	var b strings.Builder
	for _, r := range script {
		b.WriteRune(r)
		if strings.ContainsRune(sentenceTerminators, r) {
			if s := strings.TrimSpace(b.String()); s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// estimateSeconds converts a word count to narration time at a fixed
// words-per-minute rate.
func estimateSeconds(words, wordsPerMinute int) float64 {
	if wordsPerMinute <= 0 {
		wordsPerMinute = 150
	}
	return float64(words) / float64(wordsPerMinute) * 60
}

// ChunkScript splits a script into ordered segments: sentence-boundary
// split, then greedy packing toward targetSeconds without exceeding
// maxSeconds. A single sentence longer than maxSeconds becomes its own
// segment with the estimate clamped to the cap; the text is never cut, so
// every word of the script survives in order.
func ChunkScript(script string, targetSeconds, maxSeconds, wordsPerMinute int) []ScriptSegment {
	if maxSeconds <= 0 {
		maxSeconds = targetSeconds
	}
	if targetSeconds > maxSeconds {
		targetSeconds = maxSeconds
	}

	sentences := splitSentences(script)
	if len(sentences) == 0 {
		return nil
	}

	var segments []ScriptSegment
	var cur []string
	var curSeconds float64

	flush := func() {
		if len(cur) == 0 {
			return
		}
		segments = append(segments, ScriptSegment{
			Index:            len(segments),
			Text:             strings.Join(cur, " "),
			EstimatedSeconds: curSeconds,
		})
		cur, curSeconds = nil, 0
	}

	for _, sentence := range sentences {
		secs := estimateSeconds(len(strings.Fields(sentence)), wordsPerMinute)

		if secs > float64(maxSeconds) {
			// Oversize sentence: its own segment, clamped.
			flush()
			segments = append(segments, ScriptSegment{
				Index:            len(segments),
				Text:             sentence,
				EstimatedSeconds: float64(maxSeconds),
			})
			continue
		}
		if len(cur) > 0 && curSeconds+secs > float64(targetSeconds) {
			flush()
		}
		cur = append(cur, sentence)
		curSeconds += secs
	}
	flush()
	return segments
}
