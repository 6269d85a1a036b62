package chunker

// fixedSplit cuts text into approximately equal windows of target tokens,
// using the four characters per token approximation. Window ends are nudged
// back to the nearest sentence boundary within the final fifth of the
// window, and consecutive windows share an overlap region.
func (c *Chunker) fixedSplit(text string, target int) []Chunk {
	window := target * 4
	if window <= 0 {
		window = 4
	}
	overlap := c.settings.OverlapTokens * 4
	if overlap >= window {
		overlap = window / 4
	}

	runes := []rune(text)
	offsets := runeByteOffsets(text, runes)

	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + window
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = nudgeToBoundary(runes, start, end)
		}

		chunks = append(chunks, Chunk{
			Text:        text[offsets[start]:offsets[end]],
			StartOffset: offsets[start],
			EndOffset:   offsets[end],
			Metadata:    ChunkMetadata{HasOverlap: start > 0 && overlap > 0},
		})

		if end >= len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// nudgeToBoundary moves end back to just after the last sentence terminator
// in the final fifth of the window, so windows cut at sentence ends when one
// is near. Returns the original end when none is found.
func nudgeToBoundary(runes []rune, start, end int) int {
	floor := end - (end-start)/5
	for i := end - 1; i > floor; i-- {
		switch runes[i-1] {
		case '.', '!', '?', '\n':
			return i
		}
	}
	return end
}
