package client

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
)

// FormatDecision renders a decision as one readable line.
func FormatDecision(d *flag.Decision) string {
	if d.IsIdle() {
		return "idle: no upper flag is active"
	}

	w := d.Winner

	name := w.ID
	if w.Name != "" && w.Name != w.ID {
		name = fmt.Sprintf("%s (%s)", w.ID, w.Name)
	}

	return fmt.Sprintf(
		"winner: %s, priority %s, on since %s, %d active upper flag(s)",
		name,
		flag.FormatPriority(w.Priority),
		formatTime(w.LastStateChange),
		d.ActiveUpper,
	)
}

// WriteFlags writes flags as an aligned table.
func WriteFlags(out io.Writer, flags []*flag.Flag) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(tw, "ID\tTIER\tSTATE\tPRIORITY\tLAST CHANGE\tLINKED")

	for _, f := range flags {
		state := "off"
		if f.State {
			state = "on"
		}

		_, _ = fmt.Fprintf(
			tw,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			f.ID,
			f.Tier,
			state,
			flag.FormatPriority(f.Priority),
			formatTime(f.LastStateChange),
			strings.Join(f.LinkedLowerFlags, ","),
		)
	}

	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	return t.Local().Format(time.DateTime)
}
