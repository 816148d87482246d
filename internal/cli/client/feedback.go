package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// FeedbackCmd creates the feedback command.
func FeedbackCmd() *cobra.Command {
	var (
		documentID   string
		municipality string
		documentType string
		approved     bool
		feedbackText string
		reasons      []string
		suggestions  []string
		analyzeNow   bool
	)

	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Submit document feedback",
		Long:  "Queues a feedback record for the periodic learning pass, or analyzes it immediately with --now.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			if documentID == "" {
				return fmt.Errorf("--document-id is required")
			}

			record := map[string]interface{}{
				"document_id":       documentID,
				"municipality":      municipality,
				"document_type":     documentType,
				"approved":          approved,
				"feedback_text":     feedbackText,
				"rejection_reasons": reasons,
				"suggestions":       suggestions,
			}

			if analyzeNow {
				return runAnalyzeFeedback(record, documentType, outputJSON)
			}
			return runSubmitFeedback(record, outputJSON)
		},
	}

	cmd.Flags().StringVar(&documentID, "document-id", "", "Identifier of the reviewed document")
	cmd.Flags().StringVarP(&municipality, "municipality", "m", "", "Municipality that reviewed the document")
	cmd.Flags().StringVarP(&documentType, "document-type", "d", "", "Document type")
	cmd.Flags().BoolVar(&approved, "approved", false, "Whether the municipality approved the document")
	cmd.Flags().StringVar(&feedbackText, "text", "", "Free-form feedback text")
	cmd.Flags().StringArrayVar(&reasons, "reason", nil, "Rejection reason (repeatable)")
	cmd.Flags().StringArrayVar(&suggestions, "suggestion", nil, "Suggested change (repeatable)")
	cmd.Flags().BoolVar(&analyzeNow, "now", false, "Analyze immediately instead of queueing")

	return cmd
}

func runSubmitFeedback(record map[string]interface{}, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post("/feedback", record)
	if err != nil {
		return fmt.Errorf("feedback submit failed: %w", err)
	}

	var result struct {
		Queued int `json:"queued"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Feedback queued (%d records pending)\n", result.Queued)
	}
	return nil
}

func runAnalyzeFeedback(record map[string]interface{}, documentType string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	body := map[string]interface{}{
		"records":       []map[string]interface{}{record},
		"document_type": documentType,
	}
	resp, err := api.Post("/feedback/analyze", body)
	if err != nil {
		return fmt.Errorf("feedback analysis failed: %w", err)
	}

	var result struct {
		InsightsStored    int               `json:"insights_stored"`
		InsightsFailed    int               `json:"insights_failed"`
		Dropped           int               `json:"dropped"`
		PartitionFailures map[string]string `json:"partition_failures"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Stored %d insights (%d failed, %d tuples dropped)\n",
		result.InsightsStored, result.InsightsFailed, result.Dropped)
	for municipality, failure := range result.PartitionFailures {
		fmt.Printf("  partition %q failed: %s\n", municipality, failure)
	}
	return nil
}
