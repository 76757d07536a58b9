package service

import (
	"strings"
	"unicode"

	"canvasboard/internal/pdf/model"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	minChunkContent     = 50
	// Share of printable runes a chunk needs; undecodable font bytes fall short.
	minPrintableRatio = 0.85
)

// Chunker splits page text into overlapping windows measured in runes.
type Chunker struct {
	Size    int
	Overlap int
}

func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return Chunker{Size: size, Overlap: overlap}
}

// ChunkPage returns the windows of one page that carry more than 50
// non-blank, mostly printable characters. Indices count kept chunks only.
func (c Chunker) ChunkPage(text string, pageNumber int) []model.Chunk {
	runes := []rune(text)
	step := c.Size - c.Overlap

	var chunks []model.Chunk
	index := 0
	for start := 0; start < len(runes); start += step {
		end := start + c.Size
		if end > len(runes) {
			end = len(runes)
		}
		window := string(runes[start:end])
		if len([]rune(strings.TrimSpace(window))) > minChunkContent && mostlyPrintable(window) {
			chunks = append(chunks, model.Chunk{
				Text:       window,
				PageNumber: pageNumber,
				ChunkIndex: index,
				CharStart:  start,
				CharEnd:    end,
			})
			index++
		}
	}
	return chunks
}

// ChunkPages chunks every page; pages are numbered from 1.
func (c Chunker) ChunkPages(pages []string) []model.Chunk {
	var all []model.Chunk
	for i, text := range pages {
		all = append(all, c.ChunkPage(text, i+1)...)
	}
	return all
}

func mostlyPrintable(text string) bool {
	total, printable := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsPrint(r) && r != unicode.ReplacementChar {
			printable++
		}
	}
	return total > 0 && float64(printable) >= minPrintableRatio*float64(total)
}
