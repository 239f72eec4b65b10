package internal

import (
	"strconv"
	"time"

	"github.com/bundleup/bundleup/internal/logger"
	"github.com/bundleup/bundleup/internal/state"
	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show both guard stores' persisted state",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}

			table := logger.CreateTable([]string{
				"Store", "Active", "Pending", "Applied", "Attempted", "Fails", "Verified",
			})

			for _, row := range []struct {
				name string
				st   *state.Store
			}{
				{"pre-boot", app.pre},
				{"post-boot", app.post},
			} {
				if err := appendStoreRow(table, row.name, row.st); err != nil {
					return err
				}
			}

			return table.Render()
		},
	}
	return cmd
}

type tableAppender interface {
	Append(rows ...any) error
}

func appendStoreRow(table tableAppender, name string, st *state.Store) error {
	active, err := st.ActiveLabel()
	if err != nil {
		return err
	}
	verified, err := st.Verified()
	if err != nil {
		return err
	}

	rec, err := st.Pending()
	if err != nil {
		return err
	}

	pending, applied, attempted, fails := "-", "-", "-", "-"
	if rec != nil {
		pending = rec.Label
		applied = formatMilli(rec.AppliedAt)
		attempted = formatMilli(rec.AttemptAt)
		fails = strconv.Itoa(rec.FailCount)
	}
	if active == "" {
		active = "-"
	}

	return table.Append([]string{name, active, pending, applied, attempted, fails, strconv.FormatBool(verified)})
}

func formatMilli(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
