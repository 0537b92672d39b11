package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push content to the board as an agent",
	Long: `Push a markdown document or a form to the board.

Examples:
  clawkpit push markdown --file ./report.md
  clawkpit push markdown --file ./paper.pdf --title "Paper to read"
  clawkpit push markdown --external-id daily-digest --body "# Digest"
  clawkpit push form --file ./survey.json --title "Weekly check-in"`,
}

var pushMarkdownCmd = &cobra.Command{
	Use:   "markdown",
	Short: "Push a markdown document (a PDF is converted to text)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPush(cmd, "/api/v1/markdown")
	},
}

var pushFormCmd = &cobra.Command{
	Use:   "form",
	Short: "Push a form definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPush(cmd, "/api/v1/forms")
	},
}

func runPush(cmd *cobra.Command, path string) error {
	body, _ := cmd.Flags().GetString("body")
	file, _ := cmd.Flags().GetString("file")
	title, _ := cmd.Flags().GetString("title")
	externalID, _ := cmd.Flags().GetString("external-id")

	if body == "" && file == "" {
		return fmt.Errorf("one of --body or --file is required")
	}
	if file != "" {
		var err error
		if body, err = readPushBody(file); err != nil {
			return err
		}
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(cmd.Context(), path, map[string]string{
		"title":      title,
		"body":       body,
		"externalId": externalID,
	})
	if err != nil {
		return err
	}
	var res struct {
		ContentID string `json:"contentId"`
		ItemID    string `json:"itemId"`
	}
	if err := decodeJSON(resp, &res); err != nil {
		return err
	}
	printSuccess("Pushed content %s (item %s)", res.ContentID, res.ItemID)
	return nil
}

// readPushBody reads file, or stdin for "-". PDFs are reduced to their
// plain text.
func readPushBody(file string) (string, error) {
	if file == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	if strings.EqualFold(filepath.Ext(file), ".pdf") {
		return extractPDFText(file)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return string(data), nil
}

func extractPDFText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	text, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	data, err := io.ReadAll(text)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("%s has no extractable text", path)
	}
	return string(data), nil
}

func init() {
	for _, c := range []*cobra.Command{pushMarkdownCmd, pushFormCmd} {
		c.Flags().String("body", "", "content to push")
		c.Flags().String("file", "", "read content from a file (- for stdin)")
		c.Flags().String("title", "", "explicit title")
		c.Flags().String("external-id", "", "stable id; pushing again updates the same content")
	}
	pushCmd.AddCommand(pushMarkdownCmd, pushFormCmd)
}
