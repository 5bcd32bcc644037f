package processor

import (
	"fmt"
	"strings"

	"github.com/reanm09/intellidocs/internal/models"
	"github.com/reanm09/intellidocs/internal/types"
)

type ProcessorConfig struct {
	ChunkSize    int // characters
	ChunkOverlap int // characters
}

// Processor splits page text into overlapping fixed-size windows.
type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) (*Processor, error) {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("chunk_size=%d chunk_overlap=%d: %w",
			config.ChunkSize, config.ChunkOverlap, types.ErrInvalidChunking)
	}

	return &Processor{
		config: config,
	}, nil
}

// ChunkPages chunks every page independently, preserving page order.
// A page with no text yields a single empty chunk with start=end=0 so the
// page is still represented in the index.
func (p *Processor) ChunkPages(pages []models.Page) []models.Chunk {
	var chunks []models.Chunk

	for _, page := range pages {
		pageChunks := p.splitIntoChunks(page)
		if len(pageChunks) == 0 {
			pageChunks = []models.Chunk{{
				Text: "",
				Meta: models.ChunkMeta{Page: page.Index},
			}}
		}
		chunks = append(chunks, pageChunks...)
	}

	return chunks
}

func (p *Processor) splitIntoChunks(page models.Page) []models.Chunk {
	var chunks []models.Chunk

	// Offsets are in characters, not bytes.
	runes := []rune(page.Text)
	length := len(runes)
	step := p.config.ChunkSize - p.config.ChunkOverlap

	for start := 0; start < length; start += step {
		end := start + p.config.ChunkSize
		if end > length {
			end = length
		}

		text := strings.TrimSpace(string(runes[start:end]))
		if text != "" {
			chunks = append(chunks, models.Chunk{
				Text: text,
				Meta: models.ChunkMeta{Page: page.Index, Start: start, End: end},
			})
		}

		if end == length {
			break
		}
	}

	return chunks
}
