package service

import (
	"strings"

	"github.com/nordfire/munikb/internal/domain"
)

// ChunkConfig controls how documents are split into overlapping word windows.
type ChunkConfig struct {
	// ChunkSize is the window length in words.
	ChunkSize int
	// Overlap is how many words consecutive windows share. Must be
	// strictly smaller than ChunkSize.
	Overlap int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize: 500,
		Overlap:   50,
	}
}

// ChunkText splits text into overlapping fixed-size word windows. Window i
// covers words [i*step, i*step+ChunkSize) with step = ChunkSize - Overlap;
// the final window is truncated to the remaining words. A document shorter
// than one window yields a single chunk; an empty document yields none.
// Pure function: fails only on invalid parameters.
func ChunkText(text string, cfg ChunkConfig) ([]string, error) {
	if cfg.ChunkSize <= 0 {
		return nil, domain.NewConfigurationError("chunk size must be positive")
	}
	if cfg.Overlap < 0 {
		return nil, domain.NewConfigurationError("overlap cannot be negative")
	}
	if cfg.Overlap >= cfg.ChunkSize {
		return nil, domain.NewConfigurationError("overlap must be smaller than chunk size")
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}
	if len(words) <= cfg.ChunkSize {
		return []string{strings.Join(words, " ")}, nil
	}

	step := cfg.ChunkSize - cfg.Overlap
	chunks := make([]string, 0, (len(words)+step-1)/step)
	for start := 0; start < len(words); start += step {
		end := start + cfg.ChunkSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks, nil
}
