package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var ErrUnsupportedFormat = errors.New("unsupported document format")

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 200
)

// RawChunk is one extracted slice of a document, before embedding.
type RawChunk struct {
	Content string
	Source  string
}

// Processor extracts plain text from supported file formats and splits
// it into overlapping chunks. It has no state beyond configuration.
type Processor struct {
	chunkSize    int
	chunkOverlap int
}

func NewProcessor(chunkSize, chunkOverlap int) *Processor {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = defaultChunkOverlap
	}
	return &Processor{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// Process extracts the file's text and returns its chunks. The format
// is picked by extension; unsupported extensions fail before any read.
// A failed extraction never returns partial chunks.
func (p *Processor) Process(path string) ([]RawChunk, error) {
	ext := strings.ToLower(filepath.Ext(path))

	var text string
	var err error
	switch ext {
	case ".txt", ".md":
		text, err = readTextFile(path)
	case ".pdf":
		text, err = readPDFFile(path)
	case ".doc", ".docx":
		text, err = readDocxFile(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("extract text from %s failed: %w", path, err)
	}

	return p.splitIntoChunks(text, path), nil
}

// splitIntoChunks accumulates whitespace-delimited words until adding
// the next word would exceed the chunk-size character budget, then
// starts the next chunk seeded with the trailing chunkOverlap/10 words
// of the previous one. The final partial chunk is always emitted.
func (p *Processor) splitIntoChunks(text, source string) []RawChunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	overlapWords := p.chunkOverlap / 10

	var chunks []RawChunk
	var current []string
	currentLen := 0

	for _, word := range words {
		wordLen := utf8.RuneCountInString(word) + 1 // +1 for the joining space

		if currentLen+wordLen > p.chunkSize && len(current) > 0 {
			chunks = append(chunks, RawChunk{
				Content: strings.Join(current, " "),
				Source:  source,
			})

			tail := current
			if overlapWords < len(tail) {
				tail = tail[len(tail)-overlapWords:]
			} else if overlapWords == 0 {
				tail = nil
			}
			next := make([]string, 0, len(tail)+1)
			next = append(next, tail...)
			next = append(next, word)
			current = next

			currentLen = 0
			for _, w := range current {
				currentLen += utf8.RuneCountInString(w) + 1
			}
		} else {
			current = append(current, word)
			currentLen += wordLen
		}
	}

	if len(current) > 0 {
		chunks = append(chunks, RawChunk{
			Content: strings.Join(current, " "),
			Source:  source,
		})
	}

	return chunks
}
