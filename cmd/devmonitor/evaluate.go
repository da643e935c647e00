package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhubert/devmonitor/mcp"
)

type evaluateFlags struct {
	original string
	proposed string
	task     string
	filePath string
	language string
	context  map[string]string
	timeout  time.Duration
	jsonOut  bool
	overHTTP bool
}

func newEvaluateCmd(a *app) *cobra.Command {
	var f evaluateFlags

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Ask the server to assess a proposed change",
		Long: `Sends the original and proposed code to the evaluation server and prints
its evaluation. Use "-" to read one of the files from stdin.

Exits non-zero when the change is rejected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, a, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.original, "original", "", "file with the original code (required)")
	fl.StringVar(&f.proposed, "proposed", "", "file with the proposed code (required)")
	fl.StringVar(&f.task, "task", "", "what the change is meant to do")
	fl.StringVar(&f.filePath, "file-path", "", "path of the file being changed")
	fl.StringVar(&f.language, "language", "", "programming language of the code")
	fl.StringToStringVar(&f.context, "context", nil, "extra context as key=value pairs")
	fl.DurationVar(&f.timeout, "timeout", 0, "reply timeout (default from config)")
	fl.BoolVar(&f.jsonOut, "json", false, "print the evaluation as JSON")
	fl.BoolVar(&f.overHTTP, "http", false, "send over the HTTP message endpoint instead of a WebSocket")
	cmd.MarkFlagRequired("original")
	cmd.MarkFlagRequired("proposed")

	return cmd
}

// errRejected makes the command exit non-zero for a rejected change.
var errRejected = errors.New("change rejected")

func runEvaluate(cmd *cobra.Command, a *app, f evaluateFlags) error {
	if f.original == "-" && f.proposed == "-" {
		return fmt.Errorf("only one of --original and --proposed may read stdin")
	}
	original, err := readInput(cmd.InOrStdin(), f.original)
	if err != nil {
		return err
	}
	proposed, err := readInput(cmd.InOrStdin(), f.proposed)
	if err != nil {
		return err
	}

	client, err := a.newRequester(f.overHTTP)
	if err != nil {
		return err
	}
	defer client.Close()

	for k, v := range f.context {
		client.ContextStore().Set(k, v)
	}

	var opts []mcp.RequestOption
	if f.timeout > 0 {
		opts = append(opts, mcp.WithTimeout(f.timeout))
	}

	eval, err := client.EvaluateSuggestion(cmd.Context(), mcp.SuggestionRequest{
		OriginalCode:    original,
		ProposedChanges: proposed,
		TaskDescription: f.task,
		FilePath:        f.filePath,
		Language:        f.language,
	}, opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if f.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(eval); err != nil {
			return err
		}
	} else {
		printEvaluation(out, eval)
	}

	if !eval.Accept {
		return errRejected
	}
	return nil
}

func printEvaluation(w io.Writer, eval *mcp.Evaluation) {
	verdict := "ACCEPT"
	if !eval.Accept {
		verdict = "REJECT"
	}
	fmt.Fprintf(w, "Verdict:            %s\n", verdict)
	fmt.Fprintf(w, "Alignment score:    %.2f\n", eval.AlignmentScore)
	fmt.Fprintf(w, "Hallucination risk: %.2f\n", eval.HallucinationRisk)
	fmt.Fprintf(w, "Recursive risk:     %.2f\n", eval.RecursiveRisk)
	if eval.Reason != "" {
		fmt.Fprintf(w, "Reason:             %s\n", eval.Reason)
	}
	printList(w, "Issues", eval.IssuesDetected)
	printList(w, "Recommendations", eval.Recommendations)
}

func printList(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(w, "  - %s\n", item)
	}
}

// readInput returns the contents of path, or of stdin when path is "-".
func readInput(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}
