package client

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// BatchFailurePayload reports one item of a batch that was not stored.
type BatchFailurePayload struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BatchPayload mirrors the API batch result.
type BatchPayload struct {
	Stored []ChunkPayload        `json:"stored"`
	Failed []BatchFailurePayload `json:"failed"`
}

// IngestCmd creates the ingest command group.
func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents into the knowledge store",
	}

	cmd.AddCommand(ingestExampleCmd())
	cmd.AddCommand(ingestRegulationCmd())

	return cmd
}

func ingestExampleCmd() *cobra.Command {
	var (
		file         string
		municipality string
		documentType string
		originRef    string
	)

	cmd := &cobra.Command{
		Use:   "example",
		Short: "Ingest an approved example document",
		Long:  "Chunks an approved fire-safety document and stores the pieces as approved examples.",
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
			return runIngest("/examples", body, outputJSON)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Input file (reads stdin if omitted)")
	cmd.Flags().StringVarP(&municipality, "municipality", "m", "", "Municipality the document was approved by")
	cmd.Flags().StringVarP(&documentType, "document-type", "d", "", "Document type (e.g. brandstrategi)")
	cmd.Flags().StringVar(&originRef, "origin-ref", "", "Reference to the source document")

	return cmd
}

func ingestRegulationCmd() *cobra.Command {
	var (
		file         string
		municipality string
		documentType string
	)

	cmd := &cobra.Command{
		Use:   "regulation <version>",
		Short: "Install a regulation version",
		Long:  "Chunks regulation text and installs it as the current version, replacing any prior version atomically.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")

			text, err := readInput(file)
			if err != nil {
				return err
			}

			api, err := NewAPIClient()
			if err != nil {
				return err
			}

			body := map[string]string{
				"text":          string(text),
				"municipality":  municipality,
				"document_type": documentType,
			}
			resp, err := api.Put("/regulations/"+args[0], body)
			if err != nil {
				return fmt.Errorf("regulation ingest failed: %w", err)
			}

			var result struct {
				Version      string `json:"version"`
				ChunksStored int    `json:"chunks_stored"`
			}
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}

			if outputJSON {
				output, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(output))
			} else {
				fmt.Printf("Installed regulation %s (%d chunks)\n", result.Version, result.ChunksStored)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Input file (reads stdin if omitted)")
	cmd.Flags().StringVarP(&municipality, "municipality", "m", "", "Municipality scope (empty for national regulation)")
	cmd.Flags().StringVarP(&documentType, "document-type", "d", "", "Document type scope")

	return cmd
}

func runIngest(path string, body map[string]string, outputJSON bool) error {
	api, err := NewAPIClient()
	if err != nil {
		return err
	}

	resp, err := api.Post(path, body)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	var result BatchPayload
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Stored %d chunks\n", len(result.Stored))
		for _, failure := range result.Failed {
			fmt.Fprintf(os.Stderr, "chunk %d failed: %s\n", failure.Index, failure.Error)
		}
	}

	if len(result.Failed) > 0 {
		return fmt.Errorf("ingest completed with %d failures", len(result.Failed))
	}
	return nil
}

func readInput(file string) ([]byte, error) {
	var input []byte
	var err error
	if file != "" {
		input, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
	} else {
		input, err = io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
	}

	if len(input) == 0 {
		return nil, fmt.Errorf("no input provided")
	}
	return input, nil
}
