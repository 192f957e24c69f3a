// Package speech turns a growing assistant message into complete spoken
// sentences and plays them strictly in order: one synthesis, one playback,
// one unit at a time.
package speech

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// holdbackLimit is the rune length past which a sentence fragment with no
// terminator is flushed anyway to bound speech latency.
const holdbackLimit = 30

// Unit is one complete sentence queued for synthesis and playback.
type Unit struct {
	Text       string
	SequenceNo int
}

// Segmenter extracts complete sentences from the live turn text. It tracks
// how far into the text it has already segmented, so feeding it overlapping
// text again never re-emits a sentence.
type Segmenter struct {
	consumed int // byte offset into the full text already segmented
	nextSeq  int
}

// NewSegmenter returns a segmenter positioned at the start of a turn.
func NewSegmenter() *Segmenter {
	return &Segmenter{nextSeq: 1}
}

// Feed scans the unsegmented tail of fullText for sentence terminators and
// returns the completed units. While the turn is still streaming (final
// false) the trailing fragment after the last terminator is held back unless
// it exceeds the holdback limit; when the turn finalizes the remainder is
// flushed however short it is.
func (s *Segmenter) Feed(fullText string, final bool) []Unit {
	if s.consumed > len(fullText) {
		// The text shrank; a new turn started without a Reset. Start over.
		s.consumed = 0
	}
	pending := fullText[s.consumed:]

	var units []Unit
	start := 0
	i := 0
	for i < len(pending) {
		r, size := utf8.DecodeRuneInString(pending[i:])
		if !isTerminator(r) {
			i += size
			continue
		}
		end := i + size
		for end < len(pending) {
			r2, size2 := utf8.DecodeRuneInString(pending[end:])
			if !isTerminator(r2) && !unicode.IsSpace(r2) {
				break
			}
			end += size2
		}
		if sentence := strings.TrimSpace(pending[start:end]); sentence != "" {
			units = append(units, Unit{Text: sentence, SequenceNo: s.nextSeq})
			s.nextSeq++
		}
		start = end
		i = end
	}

	remainder := strings.TrimSpace(pending[start:])
	if remainder != "" && (final || utf8.RuneCountInString(remainder) > holdbackLimit) {
		units = append(units, Unit{Text: remainder, SequenceNo: s.nextSeq})
		s.nextSeq++
		start = len(pending)
	}

	s.consumed += start
	return units
}

// Reset positions the segmenter at the start of a new turn. Sequence numbers
// keep increasing across turns so the queue's duplicate rejection stays
// valid.
func (s *Segmenter) Reset() {
	s.consumed = 0
}

func isTerminator(r rune) bool {
	switch r {
	case '。', '．', '？', '！', '?', '!', '.':
		return true
	default:
		return false
	}
}
