package assistant

import (
	"fmt"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/render"
)

// inlineCharBudget is the largest formatted result that still goes out as
// chat text when the row count alone would allow it.
const inlineCharBudget = 1000

// notFoundReply is the fixed zero-row answer; the dispatch loop replaces it
// with suggestions when the resolver finds near-misses.
const notFoundReply = "🔍 Kayıt bulunamadı."

// reportFor builds the export payload for a result set.
func reportFor(title string, rows []map[string]any) render.Report {
	return render.Report{Title: title, Rows: rows}
}

// displayRule controls when a result defers to a PDF export and how many
// rows the inline preview shows.
type displayRule struct {
	Threshold int
	Preview   int
}

var defaultDisplay = displayRule{Threshold: 10, Preview: 10}

// Stock listings are dense one-liners and tolerate more rows in chat;
// movement previews get a few extra rows so a statement stays readable.
var displayRules = map[string]displayRule{
	"stok_raporu":  {Threshold: 15, Preview: 10},
	"cari_hareket": {Threshold: 10, Preview: 12},
}

func displayRuleFor(operation string) displayRule {
	if r, ok := displayRules[operation]; ok {
		return r
	}
	return defaultDisplay
}

// Materialization is the presentation decision for one query result.
type Materialization struct {
	// Text is the chat reply body: the full formatted result when inline,
	// or a preview plus an export announcement when deferred.
	Text string

	// Report is non-nil when the full result should be exported as a PDF.
	Report *render.Report
}

// materialize decides between inline text and a deferred PDF summary.
// preferText pins the result to chat text regardless of size, honoring the
// user's sticky preference.
func materialize(operation, title string, rows []map[string]any, preferText bool) Materialization {
	if len(rows) == 0 {
		return Materialization{Text: notFoundReply}
	}

	rule := displayRuleFor(operation)
	full := formatRows(operation, rows)
	deferred := len(rows) > rule.Threshold || len(full) > inlineCharBudget
	if preferText || !deferred {
		return Materialization{Text: full}
	}

	shown := min(rule.Preview, len(rows))
	preview := formatRows(operation, rows[:shown])
	text := fmt.Sprintf("%s\n\n📄 Toplam %d kayıt, detaylı rapor PDF olarak hazırlanıyor...", preview, len(rows))

	return Materialization{
		Text: text,
		Report: &render.Report{
			Title: title,
			Rows:  rows,
		},
	}
}
