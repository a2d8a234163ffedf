// Package render builds printable HTML reports from query results and
// renders them to PDF through a headless browser.
package render

import (
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"
)

// Report describes one printable report.
type Report struct {
	Title       string
	Subtitle    string
	GeneratedAt time.Time
	Columns     []string
	Rows        []map[string]any
	Footer      string
}

var reportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="tr">
<head>
<meta charset="utf-8">
<style>
  body { font-family: "DejaVu Sans", Arial, sans-serif; font-size: 11px; color: #1a1a2e; margin: 24px; }
  h1 { font-size: 18px; margin-bottom: 2px; color: #16213e; }
  .subtitle { color: #555; margin-bottom: 4px; }
  .meta { color: #888; font-size: 10px; margin-bottom: 14px; }
  table { width: 100%; border-collapse: collapse; }
  th { background: #16213e; color: #fff; text-align: left; padding: 6px 8px; font-size: 10px; }
  td { padding: 5px 8px; border-bottom: 1px solid #e0e0e0; }
  tr:nth-child(even) td { background: #f7f7fb; }
  td.num { text-align: right; font-variant-numeric: tabular-nums; }
  .footer { margin-top: 16px; color: #888; font-size: 9px; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{if .Subtitle}}<div class="subtitle">{{.Subtitle}}</div>{{end}}
<div class="meta">{{.GeneratedAt.Format "02.01.2006 15:04"}} &middot; {{len .Rows}} kayıt</div>
<table>
<thead><tr>{{range .Columns}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .RenderedRows}}<tr>{{range .}}<td class="{{.Class}}">{{.Text}}</td>{{end}}</tr>
{{end}}</tbody>
</table>
{{if .Footer}}<div class="footer">{{.Footer}}</div>{{end}}
</body>
</html>
`))

type cell struct {
	Text  string
	Class string
}

type reportView struct {
	Report
	RenderedRows [][]cell
}

// HTML renders the report document. Column order follows Columns; when it
// is empty the columns are derived from the first row.
func HTML(r Report) (string, error) {
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now()
	}
	if len(r.Columns) == 0 && len(r.Rows) > 0 {
		for col := range r.Rows[0] {
			r.Columns = append(r.Columns, col)
		}
		sort.Strings(r.Columns)
	}

	view := reportView{Report: r}
	for _, row := range r.Rows {
		cells := make([]cell, 0, len(r.Columns))
		for _, col := range r.Columns {
			cells = append(cells, renderCell(row[col]))
		}
		view.RenderedRows = append(view.RenderedRows, cells)
	}

	var sb strings.Builder
	if err := reportTmpl.Execute(&sb, view); err != nil {
		return "", fmt.Errorf("render report template: %w", err)
	}
	return sb.String(), nil
}

func renderCell(v any) cell {
	switch t := v.(type) {
	case nil:
		return cell{Text: "-"}
	case float64:
		return cell{Text: FormatNumber(t), Class: "num"}
	case float32:
		return cell{Text: FormatNumber(float64(t)), Class: "num"}
	case int64:
		return cell{Text: FormatNumber(float64(t)), Class: "num"}
	case int:
		return cell{Text: FormatNumber(float64(t)), Class: "num"}
	default:
		return cell{Text: fmt.Sprintf("%v", t)}
	}
}

// FormatNumber formats a value in Turkish convention: thousands separated
// by dots, two decimals after a comma (3.649.961,09).
func FormatNumber(f float64) string {
	neg := f < 0
	if neg {
		f = -f
	}

	s := fmt.Sprintf("%.2f", f)
	intPart, fracPart, _ := strings.Cut(s, ".")

	var sb strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			sb.WriteByte('.')
		}
		sb.WriteRune(d)
	}

	out := sb.String() + "," + fracPart
	if neg {
		out = "-" + out
	}
	return out
}
