package assistant

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/channels"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/exporter"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/gateway"
)

type fakeLLM struct {
	decision   Decision
	decideErr  error
	composeErr error

	decideCalls  int
	composeCalls int
	exchanges    []ToolExchange
}

func (f *fakeLLM) Decide(ctx context.Context, system string, history []Turn, userMsg string, tools []ToolDefinition) (Decision, error) {
	f.decideCalls++
	if f.decideErr != nil {
		return Decision{}, f.decideErr
	}
	return f.decision, nil
}

func (f *fakeLLM) Compose(ctx context.Context, system string, history []Turn, userMsg string, exchanges []ToolExchange) (string, error) {
	f.composeCalls++
	f.exchanges = exchanges
	if f.composeErr != nil {
		return "", f.composeErr
	}
	parts := make([]string, 0, len(exchanges))
	for _, ex := range exchanges {
		parts = append(parts, ex.Result)
	}
	return strings.Join(parts, "\n"), nil
}

type execCall struct {
	operation string
	params    map[string]any
}

type fakeExec struct {
	fn    func(operation string, params map[string]any) gateway.Result
	calls []execCall
}

func (f *fakeExec) Execute(ctx context.Context, operation string, params map[string]any) gateway.Result {
	f.calls = append(f.calls, execCall{operation, params})
	return f.fn(operation, params)
}

type fakeExports struct {
	jobs []exporter.Job
}

func (f *fakeExports) Schedule(job exporter.Job) (string, error) {
	f.jobs = append(f.jobs, job)
	return "job-1", nil
}

func toolCall(name string, args map[string]any) ToolCall {
	raw, _ := json.Marshal(args)
	return ToolCall{
		ID:       "call-1",
		Type:     "function",
		Function: FunctionCall{Name: name, Arguments: string(raw)},
	}
}

func incoming(text string) *channels.IncomingMessage {
	return &channels.IncomingMessage{
		Channel: "telegram",
		From:    "u1",
		ChatID:  "c1",
		Content: text,
	}
}

func newTestAssistant(t *testing.T, llm *fakeLLM, exec *fakeExec) (*Assistant, *fakeExports) {
	t.Helper()
	lic := newLicenses(t)
	lic.Grant("u1", "Ali", nil)
	exports := &fakeExports{}
	a := New(DefaultConfig(), llm, exec, lic, exports, nil)
	return a, exports
}

func successResult(op string, rows []map[string]any) gateway.Result {
	return gateway.Result{Success: true, Operation: op, RecordCount: len(rows), Rows: rows}
}

func TestUnlicensedUserRejected(t *testing.T) {
	llm := &fakeLLM{}
	a, _ := newTestAssistant(t, llm, &fakeExec{})
	a.licenses.Revoke("u1")

	reply := a.HandleMessage(context.Background(), incoming("bakiyeler"))
	if reply != noLicenseReply {
		t.Errorf("reply = %q, want license rejection", reply)
	}
	if llm.decideCalls != 0 {
		t.Error("model consulted for an unlicensed user")
	}
}

func TestDirectAnswerShortCircuit(t *testing.T) {
	llm := &fakeLLM{decision: Decision{Answer: "Merhaba!"}}
	exec := &fakeExec{}
	a, _ := newTestAssistant(t, llm, exec)

	reply := a.HandleMessage(context.Background(), incoming("selam"))
	if reply != "Merhaba!" {
		t.Errorf("reply = %q", reply)
	}
	if llm.composeCalls != 0 {
		t.Error("compose called without tool calls")
	}
	if len(exec.calls) != 0 {
		t.Error("gateway called without tool calls")
	}
	if h := a.sessions.History("telegram:u1"); len(h) != 2 {
		t.Errorf("history length = %d, want 2", len(h))
	}
}

// Scenario A: a named bank with no matching accounts, and nothing close in
// the unfiltered set. The reply says not found and points at the
// unfiltered operation.
func TestNotFoundWithoutSuggestions(t *testing.T) {
	llm := &fakeLLM{decision: Decision{ToolCalls: []ToolCall{
		toolCall("banka_bakiyeleri", map[string]any{"banka_adi": "XBANK"}),
	}}}
	exec := &fakeExec{fn: func(op string, params map[string]any) gateway.Result {
		if _, filtered := params["banka_adi"]; filtered {
			return successResult(op, nil)
		}
		return successResult(op, []map[string]any{
			{"Banka Adı": "ZİRAAT BANKASI"},
			{"Banka Adı": "HALKBANK"},
		})
	}}
	a, exports := newTestAssistant(t, llm, exec)

	reply := a.HandleMessage(context.Background(), incoming("XBANK bakiyesi"))
	if !strings.Contains(reply, "bulunamadı") {
		t.Errorf("reply lacks not-found text: %q", reply)
	}
	if !strings.Contains(reply, "Filtresiz 'banka_bakiyeleri'") {
		t.Errorf("reply lacks unfiltered suggestion: %q", reply)
	}
	if len(exec.calls) != 2 {
		t.Errorf("gateway calls = %d, want filtered + unfiltered", len(exec.calls))
	}
	if len(exports.jobs) != 0 {
		t.Error("not-found result scheduled an export")
	}
}

// Scenario B: one close approximate match. The reply lists exactly that
// suggestion and the filtered query is not re-run automatically.
func TestSingleSuggestionNoRefetch(t *testing.T) {
	llm := &fakeLLM{decision: Decision{ToolCalls: []ToolCall{
		toolCall("cari_bilgi", map[string]any{"cari_unvani": "acme tekstil"}),
	}}}
	exec := &fakeExec{fn: func(op string, params map[string]any) gateway.Result {
		if _, filtered := params["cari_unvani"]; filtered {
			return successResult(op, nil)
		}
		return successResult(op, []map[string]any{
			{"CariUnvan": "ACME TEKSTİL SANAYİ A.Ş."},
			{"CariUnvan": "BETA METAL LTD."},
		})
	}}
	a, _ := newTestAssistant(t, llm, exec)

	reply := a.HandleMessage(context.Background(), incoming("acme tekstil bakiyesi"))
	if !strings.Contains(reply, "ACME TEKSTİL SANAYİ A.Ş.") {
		t.Errorf("reply lacks the suggestion: %q", reply)
	}
	if strings.Contains(reply, "BETA METAL") {
		t.Errorf("unrelated candidate suggested: %q", reply)
	}
	if !strings.Contains(reply, "kastettiniz") {
		t.Errorf("reply does not ask for confirmation: %q", reply)
	}
	if len(exec.calls) != 2 {
		t.Errorf("gateway calls = %d, want 2 (no automatic refetch)", len(exec.calls))
	}
}

// Scenario C: 20 rows come back. The inline reply is a preview, and exactly
// one export is scheduled.
func TestLargeResultSchedulesOneExport(t *testing.T) {
	llm := &fakeLLM{decision: Decision{ToolCalls: []ToolCall{
		toolCall("bakiyeler_listesi", nil),
	}}}
	exec := &fakeExec{fn: func(op string, params map[string]any) gateway.Result {
		return successResult(op, balanceRows(20))
	}}
	a, exports := newTestAssistant(t, llm, exec)

	reply := a.HandleMessage(context.Background(), incoming("tüm bakiyeler"))
	if !strings.Contains(reply, "Toplam 20 kayıt") {
		t.Errorf("reply lacks the summary line: %q", reply)
	}
	if strings.Count(reply, "FIRMA") >= 20 {
		t.Error("reply inlines all 20 rows")
	}
	if len(exports.jobs) != 1 {
		t.Fatalf("exports scheduled = %d, want exactly 1", len(exports.jobs))
	}
	if len(exports.jobs[0].Report.Rows) != 20 {
		t.Errorf("export carries %d rows, want 20", len(exports.jobs[0].Report.Rows))
	}
}

func TestCapabilityDenialBecomesToolResult(t *testing.T) {
	llm := &fakeLLM{decision: Decision{ToolCalls: []ToolCall{
		toolCall("banka_bakiyeleri", nil),
	}}}
	exec := &fakeExec{fn: func(op string, params map[string]any) gateway.Result {
		return successResult(op, balanceRows(1))
	}}
	a, _ := newTestAssistant(t, llm, exec)
	a.licenses.SetCapabilities("u1", []string{"kasa_bakiye"})

	reply := a.HandleMessage(context.Background(), incoming("banka bakiyeleri"))
	if !strings.Contains(reply, "yetkiniz yok") {
		t.Errorf("reply lacks the denial: %q", reply)
	}
	if len(exec.calls) != 0 {
		t.Error("denied operation still reached the gateway")
	}
	if llm.composeCalls != 1 {
		t.Error("denial should still flow through the compose phase")
	}
}

func TestGatewayFailureBecomesToolResult(t *testing.T) {
	llm := &fakeLLM{decision: Decision{ToolCalls: []ToolCall{
		toolCall("kasa_bakiye", nil),
	}}}
	exec := &fakeExec{fn: func(op string, params map[string]any) gateway.Result {
		return gateway.Result{Success: false, Operation: op, Error: "connection refused"}
	}}
	a, _ := newTestAssistant(t, llm, exec)

	reply := a.HandleMessage(context.Background(), incoming("kasa"))
	if !strings.Contains(reply, "Sorgu başarısız") || !strings.Contains(reply, "connection refused") {
		t.Errorf("reply lacks the failure detail: %q", reply)
	}
}

func TestFirstCallTimeout(t *testing.T) {
	llm := &fakeLLM{decideErr: ErrLLMTimeout}
	exec := &fakeExec{}
	a, _ := newTestAssistant(t, llm, exec)

	reply := a.HandleMessage(context.Background(), incoming("bakiyeler"))
	if reply != timeoutReply {
		t.Errorf("reply = %q, want the timeout apology", reply)
	}
	if len(exec.calls) != 0 {
		t.Error("tools executed after a first-call timeout")
	}
	if len(a.sessions.History("telegram:u1")) != 0 {
		t.Error("history mutated by a failed cycle")
	}
}

func TestSecondCallTimeoutIsolation(t *testing.T) {
	llm := &fakeLLM{
		decision: Decision{ToolCalls: []ToolCall{
			toolCall("kasa_bakiye", nil),
		}},
		composeErr: ErrLLMTimeout,
	}
	exec := &fakeExec{fn: func(op string, params map[string]any) gateway.Result {
		return successResult(op, []map[string]any{{"Kasa": "MERKEZ", "Para Birimi": "TL", "Bakiye": 5.0}})
	}}
	a, _ := newTestAssistant(t, llm, exec)

	reply := a.HandleMessage(context.Background(), incoming("kasa"))
	if reply != timeoutReply {
		t.Errorf("reply = %q, want the timeout apology", reply)
	}
	if len(exec.calls) != 1 {
		t.Errorf("gateway calls = %d, tools must not re-execute", len(exec.calls))
	}
	if len(a.sessions.History("telegram:u1")) != 0 {
		t.Error("history mutated despite compose timeout")
	}
}

func TestSequentialToolOrder(t *testing.T) {
	llm := &fakeLLM{decision: Decision{ToolCalls: []ToolCall{
		toolCall("kasa_bakiye", nil),
		toolCall("banka_bakiyeleri", nil),
	}}}
	exec := &fakeExec{fn: func(op string, params map[string]any) gateway.Result {
		return successResult(op, []map[string]any{{"Kasa": "MERKEZ"}})
	}}
	a, _ := newTestAssistant(t, llm, exec)

	a.HandleMessage(context.Background(), incoming("kasa ve banka"))
	if len(exec.calls) != 2 {
		t.Fatalf("gateway calls = %d, want 2", len(exec.calls))
	}
	if exec.calls[0].operation != "kasa_bakiye" || exec.calls[1].operation != "banka_bakiyeleri" {
		t.Errorf("tools executed out of order: %v", exec.calls)
	}
}

func TestOnDemandPDFUsesCachedResult(t *testing.T) {
	rows := balanceRows(3)
	llm := &fakeLLM{decision: Decision{ToolCalls: []ToolCall{
		toolCall("bakiyeler_listesi", nil),
	}}}
	exec := &fakeExec{fn: func(op string, params map[string]any) gateway.Result {
		return successResult(op, rows)
	}}
	a, exports := newTestAssistant(t, llm, exec)

	a.HandleMessage(context.Background(), incoming("bakiyeler"))
	if len(exports.jobs) != 0 {
		t.Fatal("small result should not export eagerly")
	}

	llm.decision = Decision{ToolCalls: []ToolCall{toolCall(pdfToolName, nil)}}
	reply := a.HandleMessage(context.Background(), incoming("pdf olarak gönder"))
	if !strings.Contains(reply, "PDF") {
		t.Errorf("reply = %q", reply)
	}
	if len(exports.jobs) != 1 {
		t.Fatalf("exports = %d, want 1", len(exports.jobs))
	}
	if len(exec.calls) != 1 {
		t.Errorf("gateway calls = %d, cached export must not re-query", len(exec.calls))
	}
}

func TestStickyTextPreference(t *testing.T) {
	llm := &fakeLLM{decision: Decision{ToolCalls: []ToolCall{
		toolCall("bakiyeler_listesi", nil),
	}}}
	exec := &fakeExec{fn: func(op string, params map[string]any) gateway.Result {
		return successResult(op, balanceRows(20))
	}}
	a, exports := newTestAssistant(t, llm, exec)

	a.HandleMessage(context.Background(), incoming("bakiyeler"))
	if len(exports.jobs) != 1 {
		t.Fatalf("first large result should export, got %d", len(exports.jobs))
	}

	llm.decision = Decision{ToolCalls: []ToolCall{toolCall(textToolName, nil)}}
	a.HandleMessage(context.Background(), incoming("metin olarak göster"))

	llm.decision = Decision{ToolCalls: []ToolCall{toolCall("bakiyeler_listesi", nil)}}
	a.HandleMessage(context.Background(), incoming("bakiyeler tekrar"))
	if len(exports.jobs) != 1 {
		t.Errorf("sticky text preference ignored, exports = %d", len(exports.jobs))
	}
}

func TestMissingRequiredArgumentHint(t *testing.T) {
	llm := &fakeLLM{decision: Decision{ToolCalls: []ToolCall{
		toolCall("teklif_detay", nil),
	}}}
	exec := &fakeExec{}
	a, _ := newTestAssistant(t, llm, exec)

	reply := a.HandleMessage(context.Background(), incoming("teklif detayı"))
	if !strings.Contains(reply, "teklif_no") || !strings.Contains(reply, "zorunlu") {
		t.Errorf("reply lacks the usage hint: %q", reply)
	}
	if len(exec.calls) != 0 {
		t.Error("malformed call still reached the gateway")
	}
}

func TestAdminCommands(t *testing.T) {
	llm := &fakeLLM{}
	a, _ := newTestAssistant(t, llm, &fakeExec{})
	a.admins["u1"] = true

	msg := incoming("/adduser u9 Zeynep kasa_bakiye")
	if reply := a.HandleMessage(context.Background(), msg); !strings.Contains(reply, "eklendi") {
		t.Errorf("adduser reply: %q", reply)
	}
	// Idempotent: the second add reports the other case.
	if reply := a.HandleMessage(context.Background(), msg); !strings.Contains(reply, "zaten") {
		t.Errorf("duplicate adduser reply: %q", reply)
	}
	if !a.licenses.HasCapability("u9", "kasa_bakiye") {
		t.Error("granted capability missing")
	}
	if a.licenses.HasCapability("u9", "banka_bakiyeleri") {
		t.Error("ungrated capability present")
	}
}

func TestStartChecksLicenseAndResetsHistory(t *testing.T) {
	llm := &fakeLLM{}
	a, _ := newTestAssistant(t, llm, &fakeExec{})
	a.sessions.Append("telegram:u1", "eski soru", "eski cevap")

	reply := a.HandleMessage(context.Background(), incoming("/start"))
	if !strings.Contains(reply, "Merhaba") {
		t.Errorf("start reply: %q", reply)
	}
	if len(a.sessions.History("telegram:u1")) != 0 {
		t.Error("start did not reset the conversation history")
	}

	a.licenses.Deactivate("u1")
	if reply := a.HandleMessage(context.Background(), incoming("/start")); reply != noLicenseReply {
		t.Errorf("unlicensed start reply = %q, want license rejection", reply)
	}
}

func TestRemoveUserKeepsRecordDeactivated(t *testing.T) {
	llm := &fakeLLM{}
	a, _ := newTestAssistant(t, llm, &fakeExec{})
	a.admins["u1"] = true
	a.licenses.Grant("u9", "Zeynep", nil)
	for i := 0; i < 5; i++ {
		a.licenses.RecordUsage("u9", "kasa_bakiye")
	}

	reply := a.HandleMessage(context.Background(), incoming("/removeuser u9"))
	if !strings.Contains(reply, "iptal") {
		t.Errorf("removeuser reply: %q", reply)
	}

	users := a.licenses.Users()
	var found *UserLicense
	for i := range users {
		if users[i].UserID == "u9" {
			found = &users[i]
		}
	}
	if found == nil {
		t.Fatal("removeuser purged the license record")
	}
	if found.Active {
		t.Error("removed user still active")
	}
	if found.UsageCount != 5 {
		t.Errorf("removed user's usage history lost: %d, want 5", found.UsageCount)
	}
}

func TestGrantAllRevokeAll(t *testing.T) {
	llm := &fakeLLM{}
	a, _ := newTestAssistant(t, llm, &fakeExec{})
	a.admins["u1"] = true
	a.licenses.Grant("u2", "Veli", []string{"kasa_bakiye"})
	a.licenses.Grant("u3", "Ayşe", []string{"stok_raporu"})

	reply := a.HandleMessage(context.Background(), incoming("/grantall stok_raporu"))
	if !strings.Contains(reply, "1 kullanıcıya") {
		t.Errorf("grantall reply: %q", reply) // u1 has "*", u3 already holds it
	}
	if !a.licenses.HasCapability("u2", "stok_raporu") {
		t.Error("grantall did not take effect")
	}
	if reply := a.HandleMessage(context.Background(), incoming("/grantall stok_raporu")); !strings.Contains(reply, "zaten") {
		t.Errorf("repeated grantall reply: %q", reply)
	}

	reply = a.HandleMessage(context.Background(), incoming("/revokeall stok_raporu"))
	if !strings.Contains(reply, "2 kullanıcıdan") {
		t.Errorf("revokeall reply: %q", reply)
	}
	if a.licenses.HasCapability("u3", "stok_raporu") {
		t.Error("revokeall did not take effect")
	}
	if reply := a.HandleMessage(context.Background(), incoming("/revokeall stok_raporu")); !strings.Contains(reply, "yoktu") {
		t.Errorf("repeated revokeall reply: %q", reply)
	}
}

func TestStatsShowsUsageBreakdown(t *testing.T) {
	llm := &fakeLLM{}
	a, _ := newTestAssistant(t, llm, &fakeExec{})
	a.admins["u1"] = true
	a.licenses.RecordUsage("u1", "kasa_bakiye")
	a.licenses.RecordUsage("u1", "kasa_bakiye")
	a.licenses.RecordUsage("u1", "stok_raporu")

	reply := a.HandleMessage(context.Background(), incoming("/stats"))
	if !strings.Contains(reply, "kasa_bakiye: 2") || !strings.Contains(reply, "stok_raporu: 1") {
		t.Errorf("stats missing per-operation counters: %q", reply)
	}
	if !strings.Contains(reply, "bugün 3") {
		t.Errorf("stats missing the daily tally: %q", reply)
	}
}

func TestNonAdminCannotManageUsers(t *testing.T) {
	llm := &fakeLLM{}
	a, _ := newTestAssistant(t, llm, &fakeExec{})

	reply := a.HandleMessage(context.Background(), incoming("/adduser u9 Zeynep"))
	if strings.Contains(reply, "eklendi") {
		t.Error("non-admin managed to add a user")
	}
	if a.licenses.HasActiveLicense("u9") {
		t.Error("non-admin grant took effect")
	}
}
