package util

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

// TableColumn is one column of a rendered table.
type TableColumn struct {
	Header string
	Key    string // key looked up in each row
	Width  int    // filled in by RenderTable
}

var ansiCode = regexp.MustCompile("\x1b\\[[0-9;]*m")

// RenderTable writes rows as left-aligned columns sized to the widest cell.
// Cells may carry color codes; they do not count towards the width.
func RenderTable(w io.Writer, columns []TableColumn, rows []map[string]any) {
	cells := make([][]string, len(rows))
	for i := range columns {
		columns[i].Width = displayWidth(columns[i].Header)
	}
	for r, row := range rows {
		cells[r] = make([]string, len(columns))
		for i, col := range columns {
			if v, ok := row[col.Key]; ok {
				cells[r][i] = fmt.Sprint(v)
			}
			if width := displayWidth(cells[r][i]); width > columns[i].Width {
				columns[i].Width = width
			}
		}
	}

	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = padToWidth(col.Header, col.Width)
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))

	for i, col := range columns {
		parts[i] = strings.Repeat("-", col.Width)
	}
	fmt.Fprintln(w, strings.Join(parts, "  "))

	for _, row := range cells {
		for i, col := range columns {
			parts[i] = padToWidth(row[i], col.Width)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}
}

func displayWidth(s string) int {
	return utf8.RuneCountInString(ansiCode.ReplaceAllString(s, ""))
}

func padToWidth(s string, width int) string {
	if n := displayWidth(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
