package assistant

import (
	"encoding/json"
	"sort"

	"github.com/tarsbilisim/erpzek/pkg/erpzek/gateway"
)

// Utility tools that act on the cached previous result instead of running
// a query.
const (
	pdfToolName  = "pdf_olarak_gonder"
	textToolName = "metin_olarak_goster"
)

// buildTools converts the query catalog into the model's tool definitions,
// plus the on-demand export tool. Order is stable so prompts cache well.
func buildTools(catalog map[string]gateway.Operation) []ToolDefinition {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]ToolDefinition, 0, len(names)+1)
	for _, name := range names {
		op := catalog[name]
		tools = append(tools, ToolDefinition{
			Type: "function",
			Function: FunctionDef{
				Name:        op.Name,
				Description: op.Description,
				Parameters:  paramSchema(op.Params),
			},
		})
	}

	tools = append(tools,
		ToolDefinition{
			Type: "function",
			Function: FunctionDef{
				Name:        pdfToolName,
				Description: "Son sorgu sonucunu PDF raporu olarak gönderir. Kullanıcı önceki sonucu PDF isterse bunu çağır.",
				Parameters:  paramSchema(nil),
			},
		},
		ToolDefinition{
			Type: "function",
			Function: FunctionDef{
				Name:        textToolName,
				Description: "Son sorgu sonucunu metin olarak gösterir ve aynı sorgunun sonraki büyük sonuçlarını da PDF yerine metin olarak tutar.",
				Parameters:  paramSchema(nil),
			},
		},
	)
	return tools
}

func paramSchema(params []gateway.Param) json.RawMessage {
	type prop struct {
		Type        string `json:"type"`
		Description string `json:"description,omitempty"`
	}
	schema := struct {
		Type       string          `json:"type"`
		Properties map[string]prop `json:"properties"`
		Required   []string        `json:"required,omitempty"`
	}{
		Type:       "object",
		Properties: make(map[string]prop, len(params)),
	}
	for _, p := range params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		schema.Properties[p.Name] = prop{Type: typ, Description: p.Description}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	raw, _ := json.Marshal(schema)
	return raw
}
