package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// RespondCmd creates the respond command group for municipal response letters.
func RespondCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Parse municipal response letters",
	}

	cmd.AddCommand(respondLetterCmd("rejection", "Parse a rejection letter",
		"Extracts the cited issues from a municipal rejection letter and stores each as a negative constraint."))
	cmd.AddCommand(respondLetterCmd("approval", "Parse an approval letter",
		"Extracts the approval statements from a municipal approval letter and stores each as a golden record."))

	return cmd
}

func respondLetterCmd(kind, short, long string) *cobra.Command {
	var (
		file         string
		municipality string
		documentType string
		originRef    string
	)

	cmd := &cobra.Command{
		Use:   kind,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			text, err := readInput(file)
			if err != nil {
				return err
			}

			body := map[string]string{
				"text":          string(text),
				"municipality":  municipality,
				"document_type": documentType,
				"origin_ref":    originRef,
			}
			return runRespond("/responses/"+kind, body, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Letter file (reads stdin if omitted)")
	cmd.Flags().StringVarP(&municipality, "municipality", "m", "", "Municipality that sent the letter")
	cmd.Flags().StringVarP(&documentType, "document-type", "d", "", "Document type the letter concerns")
	cmd.Flags().StringVar(&originRef, "origin-ref", "", "Reference to the letter (archived automatically if omitted and an archive is configured)")

	return cmd
}

func runRespond(path string, body map[string]string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post(path, body)
	if err != nil {
		return fmt.Errorf("letter parse failed: %w", err)
	}

	var result struct {
		OriginRef string         `json:"origin_ref"`
		Chunks    []ChunkPayload `json:"chunks"`
		Count     int            `json:"count"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Stored %d statements\n", result.Count)
	if result.OriginRef != "" {
		fmt.Printf("Letter reference: %s\n", result.OriginRef)
	}
	for _, chunk := range result.Chunks {
		content := chunk.Content
		if len(content) > 120 {
			content = content[:117] + "..."
		}
		fmt.Printf("  [%s] %s\n", chunk.ApprovalStatus, content)
	}
	return nil
}
