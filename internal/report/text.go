package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"x12ack/internal/domain"
)

// Header identifies the compared files in a report.
type Header struct {
	ProdName    string
	TestName    string
	Transaction string
	ComparedAt  time.Time
}

var (
	heavyRule = strings.Repeat("=", 60)
	lightRule = strings.Repeat("-", 60)
)

// Render returns the plain text comparison report for diags.
func Render(h Header, diags []domain.Diagnostic) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("%s", heavyRule)
	line("            X12 FILE COMPARISON REPORT")
	line("%s", heavyRule)
	line("")
	line("PROD File : %s", h.ProdName)
	line("TEST File : %s", h.TestName)
	line("")
	line("Transaction Set : %s", h.Transaction)
	line("Comparison Date : %s", h.ComparedAt.Format(time.DateTime))
	line("%s", lightRule)

	if len(diags) == 0 {
		line("")
		line("RESULT : PASS")
		line("%s", lightRule)
		line("")
		line("No differences detected between PROD and TEST files.")
		line("All segments and elements match exactly.")
	} else {
		for _, d := range diags {
			line("")
			line("Segment Pos : %s", position(d))
			line("Segment ID  : %s", orDash(d.Tag))
			line("Difference  : %s", d.Kind)
			if d.ProdValue != nil {
				line("PROD Value  : %s", *d.ProdValue)
			}
			if d.TestValue != nil {
				line("TEST Value  : %s", *d.TestValue)
			}
			line("%s", lightRule)
		}
		line("")
		line("RESULT : FAIL")
		line("Total Differences Found : %d", len(diags))
	}

	line("")
	line("%s", heavyRule)
	line("END OF REPORT")
	b.WriteString(heavyRule)
	return b.String()
}

func position(d domain.Diagnostic) string {
	if d.Position <= 0 {
		return "-"
	}
	return strconv.Itoa(d.Position)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
