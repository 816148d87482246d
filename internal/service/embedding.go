package service

import "context"

// EmbeddingClient defines the interface for generating embeddings. Document
// and query embeddings come from different task modes; stored chunks must
// always use the document mode and search queries the query mode.
type EmbeddingClient interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocumentBatch embeds many texts in one external round trip.
	// vectors and itemErrs are aligned with texts; err reports a failure
	// of the call as a whole.
	EmbedDocumentBatch(ctx context.Context, texts []string) (vectors [][]float32, itemErrs []error, err error)
}

// PatternExtractor defines the external generation capability used by the
// feedback analyzer and the municipal response parser. It returns a raw
// structured payload (JSON) to be validated by the caller.
type PatternExtractor interface {
	ExtractPatterns(ctx context.Context, prompt string) (string, error)
}
