package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/k0kubun/pp"

	"modelconsole/pkg/types"
)

var (
	okText   = color.New(color.FgGreen).SprintFunc()
	warnText = color.New(color.FgYellow).SprintFunc()
	errText  = color.New(color.FgRed).SprintFunc()
	dimText  = color.New(color.Faint).SprintFunc()
	boldText = color.New(color.Bold).SprintFunc()
)

// emit writes v as JSON or as a pp dump when requested, else calls human.
func (a *app) emit(v any, human func(w io.Writer)) error {
	switch {
	case a.asJSON:
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case a.dump:
		_, err := pp.Fprintln(a.out, v)
		return err
	}
	human(a.out)
	return nil
}

func table(w io.Writer, header string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, boldText(header))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}

func printResult(w io.Writer, res types.OperationResult) {
	if res.Success {
		fmt.Fprintln(w, okText("✓"), res.Message)
		return
	}
	fmt.Fprintln(w, errText("✗"), res.Message)
}

func printBatch(w io.Writer, results []types.BatchResult) {
	for _, r := range results {
		printResult(w, types.OperationResult{Success: r.Success, Message: r.Name + ": " + r.Message})
	}
}

// formatBytes formats a byte count for display.
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

func formatAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

func printStats(w io.Writer, title string, st types.UsageStats) {
	fmt.Fprintln(w, boldText(title))
	fmt.Fprintf(w, "  operations:        %d\n", st.TotalOperations)
	fmt.Fprintf(w, "  prompt tokens:     %d\n", st.TotalPromptTokens)
	fmt.Fprintf(w, "  completion tokens: %d\n", st.TotalCompletionTokens)
	fmt.Fprintf(w, "  duration:          %.2fs\n", st.TotalDuration)
	kinds := make([]string, 0, len(st.OperationsByType))
	for k := range st.OperationsByType {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "    %-8s %d\n", k, st.OperationsByType[k])
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
