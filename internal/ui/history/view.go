// Package history renders ledger records as a terminal table.
package history

import (
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/nhle/mailingest/internal/model"
	"github.com/nhle/mailingest/internal/theme"
)

// Column indexes, used to pick per-column styles.
const (
	colCreated = iota
	colMessage
	colSender
	colSubjectOK
	colSenderOK
	colExtracted
	colSubject
)

const maxSubject = 48

var headers = []string{"CREATED", "MESSAGE", "SENDER", "SUBJECT OK", "SENDER OK", "EXTRACTED", "SUBJECT"}

// Render returns recs as a table, newest first as given.
func Render(recs []model.ProcessingRecord) string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, []string{
			r.CreatedOn.UTC().Format(time.DateTime),
			r.MessageID,
			r.SenderEmail,
			theme.FlagText(r.SubjectMatched),
			theme.FlagText(r.SenderValid),
			theme.FlagText(r.EmailValid),
			truncate(r.Subject, maxSubject),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(theme.BorderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow || row < 0 || row >= len(rows) {
				return theme.HeaderStyle
			}
			switch col {
			case colCreated:
				return theme.MutedStyle
			case colSubjectOK, colSenderOK, colExtracted:
				return theme.FlagStyle(rows[row][col] == theme.FlagText(true))
			}
			return theme.CellStyle
		})

	return t.Render()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
