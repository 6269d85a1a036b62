package chunker

import (
	"regexp"
	"strings"
)

var headingLine = regexp.MustCompile(`(?m)^#{1,6}[ \t]+\S.*$`)

// hierarchicalSplit honors document structure: the text is divided into
// sections at markdown headings, fenced code blocks are emitted whole, and
// the remaining prose is split semantically. Overlap is stitched between
// adjacent prose chunks afterwards.
func (c *Chunker) hierarchicalSplit(text string, target int) []Chunk {
	var chunks []Chunk
	for _, section := range splitSections(text) {
		chunks = append(chunks, c.chunkSection(section, target)...)
	}
	return c.applyOverlap(chunks)
}

type section struct {
	title  string
	body   string
	offset int
}

// splitSections divides text at heading lines. Content before the first
// heading becomes an untitled section. The heading line stays part of its
// section's body so no bytes are dropped.
func splitSections(text string) []section {
	headings := headingLine.FindAllStringIndex(text, -1)
	if len(headings) == 0 {
		return []section{{body: text}}
	}

	var sections []section
	if headings[0][0] > 0 {
		sections = append(sections, section{body: text[:headings[0][0]]})
	}
	for i, h := range headings {
		end := len(text)
		if i+1 < len(headings) {
			end = headings[i+1][0]
		}
		title := strings.TrimSpace(strings.TrimLeft(text[h[0]:h[1]], "# \t"))
		sections = append(sections, section{
			title:  title,
			body:   text[h[0]:end],
			offset: h[0],
		})
	}
	return sections
}

// chunkSection emits each fenced code block as its own chunk and splits the
// surrounding prose semantically. Code blocks larger than the maximum chunk
// size are flagged oversized rather than broken apart.
func (c *Chunker) chunkSection(s section, target int) []Chunk {
	var chunks []Chunk

	emitProse := func(prose string, offset int) {
		if strings.TrimSpace(prose) == "" {
			return
		}
		for _, chunk := range c.semanticSplit(prose, offset, target) {
			chunk.Metadata.Section = s.title
			chunks = append(chunks, chunk)
		}
	}

	pos := 0
	for _, block := range fencedCodeBlock.FindAllStringIndex(s.body, -1) {
		emitProse(s.body[pos:block[0]], s.offset+pos)

		code := s.body[block[0]:block[1]]
		tokens := c.tokenizer.CountTokens(code)
		chunks = append(chunks, Chunk{
			Text:        code,
			StartOffset: s.offset + block[0],
			EndOffset:   s.offset + block[1],
			Metadata: ChunkMetadata{
				Section:     s.title,
				IsCodeBlock: true,
				Oversized:   tokens > c.settings.MaxChunkSize,
			},
		})
		pos = block[1]
	}
	emitProse(s.body[pos:], s.offset+pos)

	return chunks
}
