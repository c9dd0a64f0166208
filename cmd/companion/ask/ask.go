// Package askcmder provides the ask command, a thin HTTP client for the
// query endpoint of a running companion server.
package askcmder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/knowledgeco/companion/pkg/cliui"
	"github.com/knowledgeco/companion/pkg/document"
)

const askLongDesc string = `Ask a question against the ingested corpus.

Sends the question to a running companion server and renders the answer
with its citations. Scope the question to specific documents with --document,
repeatable or comma-separated.

Examples:
  companion ask "what does chapter 3 say about memory?"
  companion ask --document 4f1c... --top-k 8 "who is the narrator?"
  companion ask --target http://companion.internal:8080 "summarize the intro"`

const askShortDesc string = "Ask a question against ingested documents"

const defaultTarget = "http://localhost:8080"

type askCommander struct {
	target    string
	documents []string
	topK      uint
	owner     string
	timeout   uint
}

func NewAskCmd() *cobra.Command {
	cmder := &askCommander{}

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: askShortDesc,
		Long:  askLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return cmder.run(strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&cmder.target, "target", "t", defaultTarget, "base URL of the companion server")
	cmd.Flags().StringSliceVarP(&cmder.documents, "document", "D", nil, "document IDs to scope the question to")
	cmd.Flags().UintVarP(&cmder.topK, "top-k", "k", 0, "number of passages to retrieve (server default when 0)")
	cmd.Flags().StringVar(&cmder.owner, "owner", "", "owner ID to scope document visibility")
	cmd.Flags().UintVar(&cmder.timeout, "timeout", 60, "request timeout in seconds")

	return cmd
}

type askRequest struct {
	Question    string   `json:"question"`
	DocumentIDs []string `json:"document_ids,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	Owner       string   `json:"owner,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *askCommander) run(question string) error {
	result, err := a.ask(question)
	if err != nil {
		return err
	}

	rendered, err := cliui.RenderMarkdown(result.Answer)
	if err != nil {
		rendered = result.Answer
	}
	fmt.Println(rendered)

	if len(result.Citations) > 0 {
		fmt.Printf("  %s\n", cliui.KeyStyle.Render("Sources"))
		for i, c := range result.Citations {
			location := c.DocumentID
			if c.PageNumber != nil {
				location = fmt.Sprintf("%s p.%d", c.DocumentID, *c.PageNumber)
			}
			fmt.Printf("  %s %s %s\n",
				cliui.DimStyle.Render(fmt.Sprintf("[%d]", i+1)),
				cliui.ValueStyle.Render(location),
				cliui.DimStyle.Render(fmt.Sprintf("(%.2f)", c.RelevanceScore)),
			)
		}
		fmt.Println()
	}

	fmt.Fprintf(os.Stderr, "  %s\n",
		cliui.StepStyle.Render(fmt.Sprintf("answered in %s",
			cliui.FormatDuration(time.Duration(result.ProcessingTimeMs*float64(time.Millisecond))))),
	)

	return nil
}

func (a *askCommander) ask(question string) (*document.QueryResult, error) {
	body, err := json.Marshal(askRequest{
		Question:    question,
		DocumentIDs: a.documents,
		TopK:        int(a.topK),
		Owner:       a.owner,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	client := &http.Client{Timeout: time.Duration(a.timeout) * time.Second}
	url := strings.TrimRight(a.target, "/") + "/query/ask"

	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("reaching companion server at %s: %w", a.target, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(payload, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	var result document.QueryResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &result, nil
}
