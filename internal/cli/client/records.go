package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// ChunkListPayload mirrors the API chunk listing response.
type ChunkListPayload struct {
	Items []ChunkPayload `json:"items"`
	Count int            `json:"count"`
}

// GoldenCmd creates the golden-records listing command.
func GoldenCmd() *cobra.Command {
	var (
		municipality  string
		documentType  string
		minConfidence float64
	)

	cmd := &cobra.Command{
		Use:   "golden",
		Short: "List golden records",
		Long:  "Lists approved chunks at or above the confidence threshold.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			query := url.Values{}
			if municipality != "" {
				query.Set("municipality", municipality)
			}
			if documentType != "" {
				query.Set("document_type", documentType)
			}
			if minConfidence > 0 {
				query.Set("min_confidence", fmt.Sprintf("%g", minConfidence))
			}
			return runListChunks("/golden-records", query, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&municipality, "municipality", "m", "", "Filter by municipality")
	cmd.Flags().StringVarP(&documentType, "document-type", "d", "", "Filter by document type")
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "Confidence threshold (server default when 0)")

	return cmd
}

// NegativeCmd creates the negative-constraints listing command.
func NegativeCmd() *cobra.Command {
	var (
		municipality string
		documentType string
	)

	cmd := &cobra.Command{
		Use:   "negative",
		Short: "List negative constraints",
		Long:  "Lists rejected chunks: patterns that generated documents must avoid.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			query := url.Values{}
			if municipality != "" {
				query.Set("municipality", municipality)
			}
			if documentType != "" {
				query.Set("document_type", documentType)
			}
			return runListChunks("/negative-constraints", query, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&municipality, "municipality", "m", "", "Filter by municipality")
	cmd.Flags().StringVarP(&documentType, "document-type", "d", "", "Filter by document type")

	return cmd
}

func runListChunks(path string, query url.Values, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	if encoded := query.Encode(); encoded != "" {
		path = path + "?" + encoded
	}

	resp, err := api.Get(path)
	if err != nil {
		return fmt.Errorf("listing failed: %w", err)
	}

	var list ChunkListPayload
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if list.Count == 0 {
		fmt.Println("No records found.")
		return nil
	}

	fmt.Printf("%d records:\n\n", list.Count)
	for i, chunk := range list.Items {
		content := chunk.Content
		if len(content) > 160 {
			content = content[:157] + "..."
		}
		fmt.Printf("%d. (%.2f) %s\n", i+1, chunk.ConfidenceScore, content)
		scope := formatScope(chunk.Municipality, chunk.DocumentType)
		if scope != "" {
			fmt.Printf("   Scope: %s\n", scope)
		}
		fmt.Printf("   ID: %s\n", chunk.ID)
		if i < len(list.Items)-1 {
			fmt.Println(strings.Repeat("-", 40))
		}
	}
	return nil
}

// StatsCmd creates the stats command.
func StatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show knowledge store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runStats(outputJSON)
		},
	}
	return cmd
}

func runStats(outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Get("/stats")
	if err != nil {
		return fmt.Errorf("stats failed: %w", err)
	}

	var stats struct {
		TotalChunks      int64            `json:"total_chunks"`
		BySourceType     map[string]int64 `json:"by_source_type"`
		ByMunicipality   map[string]int64 `json:"by_municipality"`
		ByDocumentType   map[string]int64 `json:"by_document_type"`
		ByApprovalStatus map[string]int64 `json:"by_approval_status"`
		ByConfidence     map[string]int64 `json:"by_confidence"`
	}
	if err := json.Unmarshal(resp.Data, &stats); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Total chunks: %d\n", stats.TotalChunks)
	printCountMap("By source type", stats.BySourceType)
	printCountMap("By approval status", stats.ByApprovalStatus)
	printCountMap("By confidence", stats.ByConfidence)
	printCountMap("By municipality", stats.ByMunicipality)
	printCountMap("By document type", stats.ByDocumentType)
	return nil
}

func printCountMap(title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	fmt.Printf("%s:\n", title)
	for key, count := range counts {
		fmt.Printf("  %-20s %d\n", key, count)
	}
}
