package harmony

import (
	"strings"
	"testing"

	"github.com/go-harmony/harmony-go/tokenizer"
)

func TestWithBrowserToolRendersNamespace(t *testing.T) {
	enc := mustEncoding(t)

	sys := (&SystemContent{}).WithBrowserTool()

	conv := Conversation{Messages: []Message{
		{
			Author:  Author{Role: RoleSystem},
			Channel: "system",
			Content: []Content{{Type: ContentSystem, System: sys}},
		},
	}}

	tokens, err := enc.RenderConversation(conv, nil)
	if err != nil {
		t.Fatalf("RenderConversation: %v", err)
	}
	body := extractMessageBody(t, enc, tokens, 0)

	for _, want := range []string{"namespace browser", "search", "open", "find"} {
		if !strings.Contains(body, want) {
			t.Fatalf("browser namespace rendering missing %q:\n%s", want, body)
		}
	}
}

func TestWithPythonToolRendersDescriptionOnly(t *testing.T) {
	enc := mustEncoding(t)

	sys := (&SystemContent{}).WithPythonTool()

	conv := Conversation{Messages: []Message{
		{
			Author:  Author{Role: RoleSystem},
			Channel: "system",
			Content: []Content{{Type: ContentSystem, System: sys}},
		},
	}}

	tokens, err := enc.RenderConversation(conv, nil)
	if err != nil {
		t.Fatalf("RenderConversation: %v", err)
	}
	body := extractMessageBody(t, enc, tokens, 0)

	if !strings.Contains(body, "## python") {
		t.Fatalf("python namespace header missing:\n%s", body)
	}
	if strings.Contains(body, "namespace python {") {
		t.Fatalf("python namespace should have no tool declarations:\n%s", body)
	}
}

func TestWithFunctionToolsUsesCommentaryChannel(t *testing.T) {
	enc := mustEncoding(t)

	dev := (&DeveloperContent{}).WithFunctionTools([]ToolDescription{
		{
			Name:        "get_weather",
			Description: "Gets the weather for a location.",
			Parameters: []byte(`{
				"type": "object",
				"properties": {
					"location": {"type": "string"},
					"units": {"type": "string", "enum": ["celsius", "fahrenheit"]}
				},
				"required": ["location"]
			}`),
		},
	})

	conv := Conversation{Messages: []Message{
		{
			Author:  Author{Role: RoleDeveloper},
			Channel: "commentary",
			Content: []Content{{Type: ContentDeveloper, Developer: dev}},
		},
	}}

	tokens, err := enc.RenderConversation(conv, nil)
	if err != nil {
		t.Fatalf("RenderConversation: %v", err)
	}
	body := extractMessageBody(t, enc, tokens, 0)

	if !strings.Contains(body, "namespace functions") {
		t.Fatalf("functions namespace missing:\n%s", body)
	}
	// location must precede units: schema property order must survive rendering.
	locIdx := strings.Index(body, "location")
	unitsIdx := strings.Index(body, "units")
	if locIdx == -1 || unitsIdx == -1 || locIdx > unitsIdx {
		t.Fatalf("expected location before units in rendered schema:\n%s", body)
	}

	channelIdx := -1
	for i, tok := range tokens {
		if tok == tokenizer.TokChannel {
			channelIdx = i
			break
		}
	}
	if channelIdx == -1 {
		t.Fatalf("TokChannel not found in rendered tokens")
	}
	msgIdx := -1
	for i := channelIdx + 1; i < len(tokens); i++ {
		if tokens[i] == tokenizer.TokMessage {
			msgIdx = i
			break
		}
	}
	if msgIdx == -1 {
		t.Fatalf("TokMessage not found after TokChannel")
	}
	channel, err := enc.DecodeUTF8(tokens[channelIdx+1 : msgIdx])
	if err != nil {
		t.Fatalf("DecodeUTF8: %v", err)
	}
	if channel != "commentary" {
		t.Fatalf("channel = %q want %q", channel, "commentary")
	}
}
