// Package chattemplate renders conversations with the ChatML layout used by
// the Qwen2.5 instruct family, for use when no tokenizer is available.
package chattemplate

import (
	"context"
	"strings"
	"text/template"

	"github.com/sgl-project/sft-agent/pkg/dataset"
)

// QwenDefaultSystemPrompt is injected when a conversation has no system turn.
const QwenDefaultSystemPrompt = "You are Qwen, created by Alibaba Cloud. You are a helpful assistant."

// Stop tokens emitted by ChatML models.
const (
	IMStart = "<|im_start|>"
	IMEnd   = "<|im_end|>"
)

// Consecutive tool turns share one user block, one <tool_response> each.
const chatMLSource = `{{- range .Turns -}}
{{- if .Tool -}}
{{- if .OpenTool }}<|im_start|>user{{ end }}
<tool_response>
{{ .Content }}
</tool_response>
{{- if .CloseTool }}<|im_end|>
{{ end -}}
{{- else -}}
<|im_start|>{{ .Role }}
{{ .Content }}<|im_end|>
{{ end -}}
{{- end -}}
{{- if .AddGenerationPrompt -}}
<|im_start|>assistant
{{ end -}}`

var chatML = template.Must(template.New("chatml").Parse(chatMLSource))

// ChatML renders conversations locally. The zero value injects
// QwenDefaultSystemPrompt; set NoDefaultSystem to disable that.
type ChatML struct {
	SystemPrompt    string
	NoDefaultSystem bool
}

var _ dataset.Templater = (*ChatML)(nil)

type chatMLData struct {
	Turns               []renderTurn
	AddGenerationPrompt bool
}

type renderTurn struct {
	Role, Content string

	Tool      bool
	OpenTool  bool
	CloseTool bool
}

func groupTurns(turns []dataset.Turn) []renderTurn {
	out := make([]renderTurn, len(turns))
	for i, t := range turns {
		tool := t.Role == dataset.RoleTool
		out[i] = renderTurn{
			Role:      t.Role,
			Content:   t.Content,
			Tool:      tool,
			OpenTool:  tool && (i == 0 || turns[i-1].Role != dataset.RoleTool),
			CloseTool: tool && (i == len(turns)-1 || turns[i+1].Role != dataset.RoleTool),
		}
	}
	return out
}

// Render renders a single conversation.
func (c *ChatML) Render(turns []dataset.Turn, addGenerationPrompt bool) (string, error) {
	if !c.NoDefaultSystem && (len(turns) == 0 || turns[0].Role != dataset.RoleSystem) {
		prompt := c.SystemPrompt
		if prompt == "" {
			prompt = QwenDefaultSystemPrompt
		}
		turns = append([]dataset.Turn{{Role: dataset.RoleSystem, Content: prompt}}, turns...)
	}

	var b strings.Builder
	if err := chatML.Execute(&b, chatMLData{Turns: groupTurns(turns), AddGenerationPrompt: addGenerationPrompt}); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (c *ChatML) ApplyChatTemplate(ctx context.Context, conversations [][]dataset.Turn, addGenerationPrompt bool) ([]string, error) {
	out := make([]string, 0, len(conversations))
	for _, turns := range conversations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := c.Render(turns, addGenerationPrompt)
		if err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, nil
}

// OllamaTemplate is the Go-template form of the same layout, for Modelfiles.
const OllamaTemplate = `{{- if .System }}<|im_start|>system
{{ .System }}<|im_end|>
{{ end }}{{- range .Messages }}<|im_start|>{{ .Role }}
{{ .Content }}<|im_end|>
{{ end }}<|im_start|>assistant
`
