package output

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/jbweber/kiln/internal/vm"
)

// TableFormatter formats results as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatResult formats a result as a single table row.
func (f *TableFormatter) FormatResult(res *vm.Result) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tSTATE\tCHANGED\tPID\tIP\tSSH PORT")
	}

	_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
		res.Name,
		orDash(string(res.State)),
		res.Changed,
		intOrDash(res.PID),
		orDash(res.IPAddress),
		intOrDash(res.SSHPort))

	_ = w.Flush()
	return buf.String(), nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func intOrDash(v int) string {
	if v == 0 {
		return "-"
	}
	return strconv.Itoa(v)
}
