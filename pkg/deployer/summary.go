package deployer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

func resultEmoji(r Result) rune {
	switch r {
	case Promoted:
		return '✅'
	case RolledBack:
		return '↩'
	default:
		return '❌'
	}
}

// WriteSummary renders a markdown summary of the attempt.
func WriteSummary(w io.Writer, out *Outcome) error {
	var b strings.Builder
	summary := func(format string, a ...any) {
		fmt.Fprintf(&b, format+"\n", a...)
	}

	summary("## 🚀 hostops deploy")
	summary("")
	summary("* Application: %s", out.App)
	summary("* Version: %s", out.Tag)
	if len(out.Image) > 0 {
		summary("* Image: `%s`", out.Image)
	}
	summary("* Run ID: %s", out.ID)
	summary("* Started at: %s", out.StartedAt.Local().Truncate(time.Second))
	summary("* Duration: %s", out.Duration.Round(time.Second))
	if len(out.PreviousInstance) > 0 {
		summary("* Previous instance: %s", shortID(out.PreviousInstance))
	}
	summary("")
	summary("%c Final status: *%s*", resultEmoji(out.Result), out.Result)
	if out.Err != nil {
		summary("")
		summary("> %s", out.Err)
	}
	if out.RollbackErr != nil {
		summary("> %s", out.RollbackErr)
	}
	if len(out.Logs) > 0 {
		summary("")
		summary("```")
		for _, line := range out.Logs {
			summary("%s", line)
		}
		summary("```")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// AppendSummaryFile appends the summary to path, typically $GITHUB_STEP_SUMMARY.
// An empty path is a no-op.
func AppendSummaryFile(path string, out *Outcome) error {
	if len(path) == 0 {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteSummary(f, out)
}
