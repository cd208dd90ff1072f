package tokenizer

import "fmt"

// Harmony special token ids and reserved ranges (must exactly match the upstream spec).
const (
	TokStartOfText uint32 = 199998
	TokEndOfText   uint32 = 199999

	// Role tokens occupy otherwise-unused slots interleaved with the
	// structural tokens below. Every Role in the data model
	// has a dedicated rank so author identity never has to round-trip through
	// plain BPE text.
	TokRoleSystem    uint32 = 200000
	TokRoleDeveloper uint32 = 200001
	TokReturn        uint32 = 200002
	TokConstrain     uint32 = 200003
	TokRoleUser      uint32 = 200004
	TokChannel       uint32 = 200005
	TokStart         uint32 = 200006
	TokEnd           uint32 = 200007
	TokMessage       uint32 = 200008
	TokRoleAssistant uint32 = 200009
	TokRoleTool      uint32 = 200010
	TokRefusal       uint32 = 200011
	TokCall          uint32 = 200012
)

// Reserved range for Harmony: 200014..=201088
const (
	ReservedStart = 200014
	ReservedEnd   = 201088
)

func buildHarmonySpecials() map[string]uint32 {
	m := map[string]uint32{
		"<|startoftext|>": TokStartOfText,
		"<|endoftext|>":   TokEndOfText,
		"<|return|>":      TokReturn,
		"<|constrain|>":   TokConstrain,
		"<|channel|>":     TokChannel,
		"<|start|>":       TokStart,
		"<|end|>":         TokEnd,
		"<|message|>":     TokMessage,
		"<|call|>":        TokCall,
		"<|refusal|>":     TokRefusal,
		"<|system|>":      TokRoleSystem,
		"<|developer|>":   TokRoleDeveloper,
		"<|user|>":        TokRoleUser,
		"<|assistant|>":   TokRoleAssistant,
		"<|tool|>":        TokRoleTool,
	}
	// Reserved mapping
	for id := uint32(ReservedStart); id <= uint32(ReservedEnd); id++ {
		key := fmt.Sprintf("<|reserved_%d|>", id)
		m[key] = id
	}
	return m
}

// RoleToken returns the reserved rank for a role literal such as "assistant".
// ok is false for strings that are not one of the five Harmony roles.
func RoleToken(role string) (tok uint32, ok bool) {
	switch role {
	case "system":
		return TokRoleSystem, true
	case "developer":
		return TokRoleDeveloper, true
	case "user":
		return TokRoleUser, true
	case "assistant":
		return TokRoleAssistant, true
	case "tool":
		return TokRoleTool, true
	default:
		return 0, false
	}
}

// RoleForToken is the inverse of RoleToken.
func RoleForToken(tok uint32) (role string, ok bool) {
	switch tok {
	case TokRoleSystem:
		return "system", true
	case TokRoleDeveloper:
		return "developer", true
	case TokRoleUser:
		return "user", true
	case TokRoleAssistant:
		return "assistant", true
	case TokRoleTool:
		return "tool", true
	default:
		return "", false
	}
}
