package chunker

import "strings"

// separators in priority order: paragraph breaks first, then lines, then
// sentence boundaries, clause boundaries, and finally words.
var separators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " "}

// semanticSplit splits text at natural boundaries, preferring the highest
// priority separator that keeps pieces under target tokens. baseOffset is
// the byte offset of text in the original document.
func (c *Chunker) semanticSplit(text string, baseOffset, target int) []Chunk {
	return c.splitRecursive(text, baseOffset, target, 0)
}

func (c *Chunker) splitRecursive(text string, baseOffset, target, sepIndex int) []Chunk {
	if c.tokenizer.CountTokens(text) <= target {
		return []Chunk{{
			Text:        text,
			StartOffset: baseOffset,
			EndOffset:   baseOffset + len(text),
		}}
	}

	if sepIndex >= len(separators) {
		return c.hardSplit(text, baseOffset, target)
	}

	// SplitAfter keeps the separator attached to the preceding piece, so
	// offsets stay exact and no bytes are lost.
	pieces := strings.SplitAfter(text, separators[sepIndex])
	if len(pieces) < 2 {
		return c.splitRecursive(text, baseOffset, target, sepIndex+1)
	}

	var chunks []Chunk
	groupStart := baseOffset
	var group strings.Builder
	groupTokens := 0

	flush := func() {
		if group.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Text:        group.String(),
			StartOffset: groupStart,
			EndOffset:   groupStart + group.Len(),
		})
		groupStart += group.Len()
		group.Reset()
		groupTokens = 0
	}

	for _, piece := range pieces {
		pieceTokens := c.tokenizer.CountTokens(piece)

		if pieceTokens > target {
			// The piece alone exceeds the target; split it at the next
			// separator level.
			flush()
			chunks = append(chunks, c.splitRecursive(piece, groupStart, target, sepIndex+1)...)
			groupStart += len(piece)
			continue
		}

		if groupTokens+pieceTokens > target {
			flush()
		}
		group.WriteString(piece)
		groupTokens += pieceTokens
	}
	flush()

	return chunks
}

// hardSplit cuts text into rune-safe windows when no separator applies, e.g.
// one unbroken token run. Approximates four characters per token.
func (c *Chunker) hardSplit(text string, baseOffset, target int) []Chunk {
	window := target * 4
	if window <= 0 {
		window = 1
	}

	runes := []rune(text)
	offsets := runeByteOffsets(text, runes)

	var chunks []Chunk
	for start := 0; start < len(runes); start += window {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			Text:        text[offsets[start]:offsets[end]],
			StartOffset: baseOffset + offsets[start],
			EndOffset:   baseOffset + offsets[end],
		})
	}
	return chunks
}

// runeByteOffsets returns the byte offset of each rune index plus one past
// the end.
func runeByteOffsets(text string, runes []rune) []int {
	offsets := make([]int, len(runes)+1)
	pos := 0
	for i, r := range runes {
		offsets[i] = pos
		pos += len(string(r))
	}
	offsets[len(runes)] = len(text)
	return offsets
}
