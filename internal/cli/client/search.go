package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// SearchRequest represents the search API request.
type SearchRequest struct {
	Query              string `json:"query"`
	Municipality       string `json:"municipality,omitempty"`
	DocumentType       string `json:"document_type,omitempty"`
	SourceType         string `json:"source_type,omitempty"`
	ExcludeRejected    bool   `json:"exclude_rejected"`
	PrioritizeApproved bool   `json:"prioritize_approved"`
	TopK               int    `json:"top_k,omitempty"`
}

// ChunkPayload mirrors the API chunk representation.
type ChunkPayload struct {
	ID                string  `json:"id"`
	Content           string  `json:"content"`
	SourceType        string  `json:"source_type"`
	Municipality      string  `json:"municipality,omitempty"`
	DocumentType      string  `json:"document_type,omitempty"`
	ConfidenceScore   float64 `json:"confidence_score"`
	ApprovalStatus    string  `json:"approval_status"`
	RegulationVersion string  `json:"regulation_version,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// SearchHit represents a single ranked result.
type SearchHit struct {
	Chunk      ChunkPayload `json:"chunk"`
	Similarity float64      `json:"similarity"`
	Score      float64      `json:"score"`
}

// SearchResponse represents the search API response.
type SearchResponse struct {
	Results []SearchHit `json:"results"`
	Count   int         `json:"count"`
}

// SearchCmd creates the search command.
func SearchCmd() *cobra.Command {
	var (
		municipality       string
		documentType       string
		sourceType         string
		topK               int
		excludeRejected    bool
		prioritizeApproved bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge store",
		Long:  "Retrieves the highest-scoring chunks for a query by confidence-weighted similarity.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			req := SearchRequest{
				Query:              args[0],
				Municipality:       municipality,
				DocumentType:       documentType,
				SourceType:         sourceType,
				ExcludeRejected:    excludeRejected,
				PrioritizeApproved: prioritizeApproved,
				TopK:               topK,
			}
			return runSearch(req, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&municipality, "municipality", "m", "", "Filter by municipality (global chunks always match)")
	cmd.Flags().StringVarP(&documentType, "document-type", "d", "", "Filter by document type")
	cmd.Flags().StringVarP(&sourceType, "source-type", "t", "", "Filter by source type (example, insight, regulation, municipal_response)")
	cmd.Flags().IntVarP(&topK, "top-k", "n", 5, "Maximum number of results")
	cmd.Flags().BoolVar(&excludeRejected, "exclude-rejected", false, "Exclude rejected chunks from results")
	cmd.Flags().BoolVar(&prioritizeApproved, "prioritize-approved", false, "Boost approved chunks in ranking")

	return cmd
}

func runSearch(req SearchRequest, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post("/search", req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	var searchResp SearchResponse
	if err := json.Unmarshal(resp.Data, &searchResp); err != nil {
		return fmt.Errorf("failed to parse search results: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(searchResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(searchResp.Results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results:\n\n", searchResp.Count)
	for i, hit := range searchResp.Results {
		fmt.Printf("%d. [%s/%s] score %.3f (similarity %.3f, confidence %.2f)\n",
			i+1, hit.Chunk.SourceType, hit.Chunk.ApprovalStatus, hit.Score, hit.Similarity, hit.Chunk.ConfidenceScore)

		content := hit.Chunk.Content
		if len(content) > 200 {
			content = content[:197] + "..."
		}
		fmt.Printf("   %s\n", content)

		scope := formatScope(hit.Chunk.Municipality, hit.Chunk.DocumentType)
		if scope != "" {
			fmt.Printf("   Scope: %s\n", scope)
		}
		fmt.Printf("   ID: %s\n", hit.Chunk.ID)
		if i < len(searchResp.Results)-1 {
			fmt.Println(strings.Repeat("-", 40))
		}
	}

	return nil
}

func formatScope(municipality, documentType string) string {
	switch {
	case municipality == "" && documentType == "":
		return ""
	case municipality == "":
		return documentType
	case documentType == "":
		return municipality
	default:
		return municipality + "/" + documentType
	}
}
