// Package assistant implements the conversational ERP assistant: bounded
// per-user sessions, a two-phase tool-dispatch protocol against the model,
// per-user licensing, fuzzy entity resolution, and inline-vs-PDF result
// materialization.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/channels"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/exporter"
	"github.com/tarsbilisim/erpzek/pkg/erpzek/gateway"
)

// modelClient is the two-phase reasoning protocol. Decide sees the tool
// catalog; Compose never does, so the model cannot request another round.
type modelClient interface {
	Decide(ctx context.Context, system string, history []Turn, userMsg string, tools []ToolDefinition) (Decision, error)
	Compose(ctx context.Context, system string, history []Turn, userMsg string, exchanges []ToolExchange) (string, error)
}

// exportQueue schedules deferred report exports.
type exportQueue interface {
	Schedule(job exporter.Job) (string, error)
}

// Assistant is the orchestrator. One instance serves all users; per-user
// state lives in the session store and license registry.
type Assistant struct {
	cfg      *Config
	llm      modelClient
	exec     gateway.Executor
	sessions *SessionStore
	licenses *Licenses
	exports  exportQueue
	catalog  map[string]gateway.Operation
	tools    []ToolDefinition
	admins   map[string]bool
	logger   *slog.Logger
}

// New wires the assistant together.
func New(cfg *Config, llm modelClient, exec gateway.Executor, licenses *Licenses, exports exportQueue, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	catalog := gateway.Catalog()
	admins := make(map[string]bool, len(cfg.Licenses.Admins))
	for _, id := range cfg.Licenses.Admins {
		admins[id] = true
	}
	return &Assistant{
		cfg:      cfg,
		llm:      llm,
		exec:     exec,
		sessions: NewSessionStore(),
		licenses: licenses,
		exports:  exports,
		catalog:  catalog,
		tools:    buildTools(catalog),
		admins:   admins,
		logger:   logger.With("component", "assistant"),
	}
}

// Sessions exposes the session store to the administrative surface.
func (a *Assistant) Sessions() *SessionStore { return a.sessions }

// Licenses exposes the license registry to the administrative surface.
func (a *Assistant) Licenses() *Licenses { return a.licenses }

// Run consumes messages from the transport until the context ends. Each
// message is handled on its own goroutine; per-user state is individually
// locked, so concurrent users never block each other.
func (a *Assistant) Run(ctx context.Context, transport channels.Transport) error {
	if err := transport.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", transport.Name(), err)
	}
	a.logger.Info("assistant running", "channel", transport.Name())

	for {
		select {
		case <-ctx.Done():
			return transport.Disconnect()
		case msg, ok := <-transport.Receive():
			if !ok {
				return nil
			}
			go a.serve(ctx, transport, msg)
		}
	}
}

func (a *Assistant) serve(ctx context.Context, transport channels.Transport, msg *channels.IncomingMessage) {
	_ = transport.SendTyping(ctx, msg.ChatID)

	reply := a.HandleMessage(ctx, msg)
	if reply == "" {
		return
	}
	if err := transport.SendText(ctx, msg.ChatID, reply); err != nil {
		a.logger.Error("reply undeliverable", "chat", msg.ChatID, "error", err)
	}
}

func (a *Assistant) systemPrompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Sen %s, bir ERP asistanısın. Kullanıcıların işletme verileri hakkındaki sorularını, sana tanımlanan araçları çağırarak yanıtlarsın.\n", a.cfg.Name)
	sb.WriteString("Kurallar:\n")
	sb.WriteString("- Araç sonuçlarındaki sayıları ve adları aynen kullan, asla uydurma.\n")
	sb.WriteString("- Sonuç bulunamadıysa araç sonucundaki önerileri kullanıcıya aynen ilet.\n")
	sb.WriteString("- Yanıtlar kısa ve Türkçe olsun.\n")
	if a.cfg.Instructions != "" {
		sb.WriteString(a.cfg.Instructions)
	}
	return sb.String()
}
