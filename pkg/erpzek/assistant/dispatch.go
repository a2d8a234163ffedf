// dispatch.go is the heart of the assistant: the two-phase protocol that
// turns a user message into tool executions and a composed reply.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/channels"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/exporter"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/gateway"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/resolver"
)

// Fixed user-facing failure messages. The timeout apology is distinct from
// the generic one so users know a retry may simply work.
const (
	timeoutReply   = "⏱️ İşlem çok uzun sürdü, lütfen tekrar deneyin."
	genericReply   = "⚠️ Bir hata oluştu, lütfen daha sonra tekrar deneyin."
	noLicenseReply = "🔒 Bu asistanı kullanma yetkiniz bulunmuyor. Lütfen yöneticinizle iletişime geçin."
)

// resolveHint describes how to recover from a zero-row result: which
// argument held the entity name, which result column carries candidate
// names, and how to render a suggestion.
type resolveHint struct {
	param   string
	field   string
	display func(row map[string]any) string
}

var resolveHints = map[string]resolveHint{
	"cari_bilgi":        {param: "cari_unvani", field: "CariUnvan"},
	"bakiyeler_listesi": {param: "ticari_unvan_filtresi", field: "CariUnvan"},
	"banka_bakiyeleri":  {param: "banka_adi", field: "Banka Adı"},
	"stok_raporu":       {param: "urun_adi", field: "UrunAdi"},
	"teklif_raporu": {param: "cari_unvani", field: "CariUnvan",
		display: func(row map[string]any) string {
			return str(row, "TeklifNo") + " - " + str(row, "CariUnvan")
		}},
}

// HandleMessage runs one complete dispatch cycle and returns the reply
// text. It never panics outward and never leaves partial history behind: a
// failed cycle appends nothing, so the session stays usable.
func (a *Assistant) HandleMessage(ctx context.Context, msg *channels.IncomingMessage) string {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return ""
	}
	if strings.HasPrefix(content, "/") {
		return a.handleCommand(msg, content)
	}

	userID := msg.From
	if !a.licenses.HasActiveLicense(userID) {
		a.logger.Warn("unlicensed user", "user", userID, "channel", msg.Channel)
		return noLicenseReply
	}

	sessionKey := msg.Channel + ":" + userID
	history := a.sessions.History(sessionKey)
	system := a.systemPrompt()

	decision, err := a.llm.Decide(ctx, system, history, content, a.tools)
	if err != nil {
		a.logger.Error("decide failed", "user", userID, "error", err)
		if errors.Is(err, ErrLLMTimeout) {
			return timeoutReply
		}
		return genericReply
	}

	// Short-circuit: plain text answer, no tools requested.
	if len(decision.ToolCalls) == 0 {
		a.sessions.Append(sessionKey, content, decision.Answer)
		return decision.Answer
	}

	// Tool calls run strictly in the order the model returned them; later
	// calls may depend on state left by earlier ones (last-result cache).
	exchanges := make([]ToolExchange, 0, len(decision.ToolCalls))
	for _, call := range decision.ToolCalls {
		result := a.executeTool(ctx, msg, sessionKey, call)
		exchanges = append(exchanges, ToolExchange{Call: call, Result: result})
	}

	reply, err := a.llm.Compose(ctx, system, history, content, exchanges)
	if err != nil {
		a.logger.Error("compose failed", "user", userID, "error", err)
		if errors.Is(err, ErrLLMTimeout) {
			return timeoutReply
		}
		return genericReply
	}

	a.sessions.Append(sessionKey, content, reply)
	return reply
}

// executeTool runs a single tool call. Every failure mode becomes a textual
// result: the compose phase must be able to explain what happened even when
// some tools failed.
func (a *Assistant) executeTool(ctx context.Context, msg *channels.IncomingMessage, sessionKey string, call ToolCall) string {
	name := call.Function.Name
	userID := msg.From

	if name == pdfToolName {
		return a.exportLastResult(msg, sessionKey)
	}
	if name == textToolName {
		return a.showLastAsText(sessionKey)
	}

	op, known := a.catalog[name]
	if !known {
		return fmt.Sprintf("Bilinmeyen işlem: %s", name)
	}
	if !a.licenses.HasCapability(userID, name) {
		a.logger.Warn("capability denied", "user", userID, "operation", name)
		return fmt.Sprintf("⛔ '%s' işlemi için yetkiniz yok.", op.Title)
	}

	args, err := call.Function.Args()
	if err != nil {
		return fmt.Sprintf("Parametreler çözümlenemedi: %v. Lütfen isteği netleştirin.", err)
	}
	for _, p := range op.Params {
		if p.Required {
			if v, ok := args[p.Name].(string); !ok || strings.TrimSpace(v) == "" {
				return fmt.Sprintf("'%s' parametresi zorunlu. Lütfen %s belirtin.", p.Name, p.Description)
			}
		}
	}

	a.licenses.RecordUsage(userID, name)

	res := a.exec.Execute(ctx, name, args)
	if !res.Success {
		a.logger.Error("operation failed", "operation", name, "error", res.Error)
		return fmt.Sprintf("⚠️ Sorgu başarısız: %s", res.Error)
	}

	if res.RecordCount == 0 {
		if hint, ok := resolveHints[name]; ok {
			if term, _ := args[hint.param].(string); strings.TrimSpace(term) != "" {
				return a.suggestAlternatives(ctx, name, hint, args, term)
			}
		}
		return notFoundReply
	}

	a.sessions.RememberResult(sessionKey, name, op.Title, res.Rows)

	m := materialize(name, op.Title, res.Rows, a.sessions.PreferText(sessionKey, name))
	if m.Report != nil {
		a.scheduleExport(msg, op.Title, exporter.Job{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Caption: fmt.Sprintf("%s - %d kayıt", op.Title, len(m.Report.Rows)),
			Report:  *m.Report,
		})
	}
	return m.Text
}

// suggestAlternatives handles the zero-row case for entity-filtered
// operations: the same operation is fetched once without the filter and the
// resolver matches the term against what actually exists. The filtered
// query is never automatically re-run with a corrected name; the user
// confirms first.
func (a *Assistant) suggestAlternatives(ctx context.Context, operation string, hint resolveHint, args map[string]any, term string) string {
	unfiltered := make(map[string]any, len(args))
	for k, v := range args {
		if k != hint.param {
			unfiltered[k] = v
		}
	}

	res := a.exec.Execute(ctx, operation, unfiltered)
	if !res.Success {
		return notFoundReply
	}

	seen := make(map[string]bool)
	var candidates []resolver.Candidate
	for _, row := range res.Rows {
		name := str(row, hint.field)
		if name == "-" || seen[name] {
			continue
		}
		seen[name] = true
		c := resolver.Candidate{Name: name, Row: row}
		if hint.display != nil {
			c.Display = hint.display(row)
		}
		candidates = append(candidates, c)
	}

	resolution := resolver.Resolve(candidates, term)
	if len(resolution.Suggestions) == 0 {
		return fmt.Sprintf("🔍 '%s' için kayıt bulunamadı. Filtresiz '%s' sorgusuyla tüm kayıtları görebilirsiniz.", term, operation)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 '%s' için kayıt bulunamadı. Şunlardan birini mi kastettiniz?\n", term)
	for _, s := range resolution.Suggestions {
		fmt.Fprintf(&sb, "• %s\n", s)
	}
	sb.WriteString("Lütfen doğru olanı belirtin.")
	return sb.String()
}

// exportLastResult serves the on-demand "send it as PDF" tool from the
// cached result, without re-running the query.
func (a *Assistant) exportLastResult(msg *channels.IncomingMessage, sessionKey string) string {
	_, title, rows, ok := a.sessions.LastResult(sessionKey)
	if !ok {
		return "Henüz rapor alınacak bir sorgu sonucu yok."
	}

	a.scheduleExport(msg, title, exporter.Job{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Caption: fmt.Sprintf("%s - %d kayıt", title, len(rows)),
		Report:  reportFor(title, rows),
	})
	return fmt.Sprintf("📄 %s raporu PDF olarak hazırlanıyor (%d kayıt).", title, len(rows))
}

// showLastAsText pins the last operation to text output and renders the
// cached result in full. The preference is sticky for that operation kind.
func (a *Assistant) showLastAsText(sessionKey string) string {
	operation, _, rows, ok := a.sessions.LastResult(sessionKey)
	if !ok {
		return "Henüz gösterilecek bir sorgu sonucu yok."
	}
	a.sessions.SetPreferText(sessionKey, operation, true)
	return formatRows(operation, rows)
}

// DeliverReport sends a query result to a chat outside a conversation.
// Scheduled reports use it so their output looks exactly like a query
// reply: small results inline, large ones as a PDF export.
func (a *Assistant) DeliverReport(ctx context.Context, transport channels.Transport, chatID, operation, title string, res gateway.Result) {
	if title == "" {
		if op, ok := a.catalog[operation]; ok {
			title = op.Title
		} else {
			title = operation
		}
	}
	if !res.Success {
		a.logger.Error("scheduled report failed", "operation", operation, "error", res.Error)
		return
	}

	m := materialize(operation, title, res.Rows, false)
	if err := transport.SendText(ctx, chatID, fmt.Sprintf("🗓 *%s*\n\n%s", title, m.Text)); err != nil {
		a.logger.Error("scheduled report undeliverable", "chat", chatID, "error", err)
		return
	}
	if m.Report != nil {
		a.scheduleExport(&channels.IncomingMessage{ChatID: chatID}, title, exporter.Job{
			ChatID:  chatID,
			Caption: fmt.Sprintf("%s - %d kayıt", title, len(m.Report.Rows)),
			Report:  *m.Report,
		})
	}
}

func (a *Assistant) scheduleExport(msg *channels.IncomingMessage, title string, job exporter.Job) {
	id, err := a.exports.Schedule(job)
	if err != nil {
		a.logger.Error("export scheduling failed", "chat", msg.ChatID, "error", err)
		return
	}
	a.logger.Info("export scheduled", "job", id, "title", title, "chat", msg.ChatID)
}
