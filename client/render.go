package client

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/bosley/flowlab/session"
	"github.com/bosley/flowlab/vault"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
	clearLine  = "\r\x1b[K"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func renderLines(lines []string) string {
	rows := make([][]string, len(lines))
	for i, line := range lines {
		rows[i] = []string{fmt.Sprintf("%d", i+1), line}
	}
	return renderTable([]string{"#", "Line"}, rows, []columnAlignment{alignRight, alignLeft})
}

func renderVault(entries []vault.Entry) string {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		fav := ""
		if e.IsFavorite {
			fav = "*"
		}
		rows[i] = []string{
			e.DateCreated.Local().Format("2006-01-02 15:04"),
			fav,
			e.Content,
			strings.Join(e.Tags, ", "),
			string(e.AddedFrom),
		}
	}
	return renderTable(
		[]string{"Added", "Fav", "Line", "Tags", "From"},
		rows,
		nil,
	)
}

// renderStatus is the one-line view of a session snapshot.
func renderStatus(s session.Snapshot, ceiling time.Duration, level float64, colorize bool) string {
	var line, color string
	switch s.State {
	case session.Idle:
		if !s.CanRecord {
			line, color = "Recording unavailable", ansiRed
		} else {
			line, color = "Ready. Press Enter to record", ansiGreen
		}
	case session.Preparing:
		line, color = fmt.Sprintf("Get ready... %d", s.Countdown), ansiYellow
	case session.Recording:
		elapsed := time.Duration(s.Elapsed) * time.Second
		line = fmt.Sprintf("REC %s / %s %s  Press Enter to stop",
			formatClock(elapsed), formatClock(ceiling), levelBar(level, 10))
		color = ansiRed
	case session.Processing:
		line, color = "Transcribing...", ansiBlue
	}
	if colorize {
		return color + line + ansiReset
	}
	return line
}

func renderNotification(n session.Notification, colorize bool) string {
	label, color := "OK", ansiGreen
	if n.Error {
		label, color = "ERROR", ansiRed
	}
	base := fmt.Sprintf("[%s] %s", label, n.Title)
	if n.Description != "" {
		base += ": " + n.Description
	}
	if colorize {
		return color + base + ansiReset
	}
	return base
}

func formatClock(d time.Duration) string {
	total := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func levelBar(level float64, width int) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	filled := int(level*float64(width) + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(" ", width-filled) + "]"
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
