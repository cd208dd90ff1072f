package harmony

import (
	"encoding/json"
	"strings"

	"github.com/go-harmony/harmony-go/tokenizer"
)

type streamState int

const (
	stExpectStart streamState = iota
	stHeader
	stContent
)

// headerPhase tracks which part of the header is currently accumulating
// plain-text tokens. The Header state never decodes the whole header as one
// blob and regex-splits it; each structural token (a role-special,
// <|channel|>, <|constrain|>, <|message|>) is recognized by identity and
// flips the phase directly.
type headerPhase int

const (
	phaseName headerPhase = iota // before the role-special: optional author name
	phasePostRole
	phaseChannel
	phaseContentType
)

// StreamParser incrementally parses Harmony tokens into messages, one token
// at a time. It mirrors the three states in the protocol design: ExpectStart,
// Header, Content.
type StreamParser struct {
	enc      *Encoding
	nextRole *Role
	state    streamState
	phase    headerPhase

	tokens   []uint32
	messages []Message

	// in-progress header fields
	pendingAuthor      Author
	pendingChannel     string
	pendingRecipient   string
	pendingContentType string
	sawChannelTok      bool
	sawConstrainTok    bool
	nameBuf            []byte
	channelBuf         []byte
	contentTypeBuf     []byte
	// gapBuf accumulates the literal space the renderer puts between the end
	// of the role/channel run and <|constrain|> when no <|channel|> segment
	// was open to absorb it. It must decode to whitespace only; it is never
	// surfaced on the parsed Message.
	gapBuf []byte

	// in-progress body
	contentToks []uint32
	// contentBytes holds the already-decoded, UTF-8-complete prefix of the
	// current message body; pendingTail holds bytes that may still be part
	// of an incomplete multi-byte rune.
	contentBytes []byte
	pendingTail  []byte
	// last delta stored as bytes to avoid per-token string allocs
	lastDeltaBytes []byte
	// scratch buffer reused for per-token decoding to reduce allocations
	scratch []byte
}

// NewStreamParser creates a streaming parser. If role is provided, the
// caller has already primed the model with <|start|>+role-special (as
// render_for_completion does) and the incoming tokens begin mid-header, past
// the role-special and any author name.
func NewStreamParser(enc *Encoding, role *Role) (*StreamParser, error) {
	p := &StreamParser{enc: enc, nextRole: role}
	if role != nil {
		p.state = stHeader
		p.phase = phasePostRole
		p.pendingAuthor = Author{Role: *role}
	} else {
		p.state = stExpectStart
	}
	return p, nil
}

// Process consumes a single token and updates the parser state.
func (p *StreamParser) Process(token uint32) error {
	pos := len(p.tokens)
	p.tokens = append(p.tokens, token)
	p.lastDeltaBytes = p.lastDeltaBytes[:0]
	switch p.state {
	case stExpectStart:
		if token == tokenizer.TokStart {
			p.resetHeader()
			p.state = stHeader
			return nil
		}
		return newError(KindProtocolViolation, pos, "ExpectStart", "expected <|start|>, got token %d", token)
	case stHeader:
		return p.processHeaderToken(token, pos)
	case stContent:
		return p.processContentToken(token, pos)
	default:
		return newError(KindProtocolViolation, pos, "", "invalid parser state")
	}
}

func (p *StreamParser) processHeaderToken(token uint32, pos int) error {
	if token == tokenizer.TokStart && p.nextRole != nil && len(p.messages) == 0 &&
		p.phase == phasePostRole && !p.sawChannelTok && !p.sawConstrainTok && len(p.gapBuf) == 0 {
		// Tolerate a duplicate leading <|start|> when the parser was primed
		// with a role hint and the caller still forwards the priming tokens:
		// reopen the header so the role-special that follows is accepted.
		p.resetHeader()
		return nil
	}
	if token == tokenizer.TokStart && p.phase == phaseName && len(p.nameBuf) == 0 {
		// A repeated <|start|> before any header text is ignored as well.
		return nil
	}
	if role, ok := tokenizer.RoleForToken(token); ok {
		if p.phase != phaseName {
			return newError(KindProtocolViolation, pos, "Header", "unexpected role token %d mid-header", token)
		}
		decodedName, derr := p.decodeBuf(p.nameBuf)
		if derr != nil {
			return wrapError(KindDecodeRank, derr, pos, "Header", "decoding author name")
		}
		p.pendingAuthor = Author{Role: Role(role), Name: trimSpaceASCII(decodedName)}
		p.phase = phasePostRole
		p.nameBuf = p.nameBuf[:0]
		return nil
	}

	switch token {
	case tokenizer.TokChannel:
		if p.phase == phaseName {
			return newError(KindProtocolViolation, pos, "Header", "role-special required before <|channel|>")
		}
		if p.sawChannelTok {
			return newError(KindProtocolViolation, pos, "Header", "duplicate <|channel|>")
		}
		p.sawChannelTok = true
		p.phase = phaseChannel
		p.channelBuf = p.channelBuf[:0]
		return nil
	case tokenizer.TokConstrain:
		if p.phase == phaseName {
			return newError(KindProtocolViolation, pos, "Header", "role-special required before <|constrain|>")
		}
		if p.sawConstrainTok {
			return newError(KindProtocolViolation, pos, "Header", "duplicate <|constrain|>")
		}
		if err := p.finalizeChannelIfOpen(); err != nil {
			return err
		}
		if err := p.discardGap(pos); err != nil {
			return err
		}
		p.sawConstrainTok = true
		p.phase = phaseContentType
		p.contentTypeBuf = p.contentTypeBuf[:0]
		return nil
	case tokenizer.TokMessage:
		if p.phase == phaseName {
			return newError(KindProtocolViolation, pos, "Header", "role-special required before <|message|>")
		}
		if err := p.finalizeChannelIfOpen(); err != nil {
			return err
		}
		if err := p.finalizeContentTypeIfOpen(); err != nil {
			return err
		}
		if err := p.discardGap(pos); err != nil {
			return err
		}
		p.messages = append(p.messages, Message{
			Author:      p.pendingAuthor,
			Recipient:   p.pendingRecipient,
			Channel:     p.pendingChannel,
			ContentType: p.pendingContentType,
		})
		p.contentToks = p.contentToks[:0]
		p.contentBytes = p.contentBytes[:0]
		p.pendingTail = p.pendingTail[:0]
		p.lastDeltaBytes = p.lastDeltaBytes[:0]
		p.state = stContent
		return nil
	default:
		switch p.phase {
		case phaseName:
			p.nameBuf = append(p.nameBuf, p.decodeOneInto(token)...)
			return nil
		case phaseChannel:
			p.channelBuf = append(p.channelBuf, p.decodeOneInto(token)...)
			return nil
		case phaseContentType:
			p.contentTypeBuf = append(p.contentTypeBuf, p.decodeOneInto(token)...)
			return nil
		default: // phasePostRole: only the renderer's gap space is legal here
			p.gapBuf = append(p.gapBuf, p.decodeOneInto(token)...)
			return nil
		}
	}
}

// discardGap validates that any bytes accumulated in phasePostRole (the gap
// before <|constrain|> when no <|channel|> segment absorbed it) are
// whitespace, then drops them. Anything else is stray header text.
func (p *StreamParser) discardGap(pos int) error {
	if len(p.gapBuf) == 0 {
		return nil
	}
	text, err := p.decodeBuf(p.gapBuf)
	if err != nil {
		return wrapError(KindDecodeRank, err, pos, "Header", "decoding header gap")
	}
	if strings.TrimSpace(text) != "" {
		return newError(KindProtocolViolation, pos, "Header", "unexpected text %q before <|constrain|> or <|message|>", text)
	}
	p.gapBuf = p.gapBuf[:0]
	return nil
}

func (p *StreamParser) processContentToken(token uint32, pos int) error {
	if kind, stop := p.enc.endMarkerFor(token); stop {
		if err := p.finalizeMessage(kind); err != nil {
			return err
		}
		p.state = stExpectStart
		p.resetHeader()
		return nil
	}
	if _, ok := tokenizer.RoleForToken(token); ok {
		return newError(KindProtocolViolation, pos, "Content", "role-special %d without preceding <|start|>", token)
	}
	p.contentToks = append(p.contentToks, token)
	decoded := p.decodeOneInto(token)
	p.pendingTail = append(p.pendingTail, decoded...)
	ready, rest := splitCompleteUTF8(p.pendingTail)
	p.contentBytes = append(p.contentBytes, ready...)
	p.lastDeltaBytes = append(p.lastDeltaBytes[:0], ready...)
	// rest may alias pendingTail's backing array; copy defensively before reuse.
	p.pendingTail = append(p.pendingTail[:0], rest...)
	return nil
}

func (p *StreamParser) finalizeChannelIfOpen() error {
	if p.phase != phaseChannel {
		return nil
	}
	text, err := p.decodeBuf(p.channelBuf)
	if err != nil {
		return wrapError(KindDecodeRank, err, -1, "Header", "decoding channel text")
	}
	// The renderer tacks a single gap space onto the end of this run when a
	// content type follows; it was never part of the channel/recipient value.
	text = strings.TrimRight(text, " ")
	if idx := lastIndexRecipientMarker(text); idx >= 0 {
		p.pendingChannel = text[:idx]
		p.pendingRecipient = text[idx+len(recipientMarker):]
	} else {
		p.pendingChannel = text
	}
	return nil
}

func (p *StreamParser) finalizeContentTypeIfOpen() error {
	if p.phase != phaseContentType {
		return nil
	}
	text, err := p.decodeBuf(p.contentTypeBuf)
	if err != nil {
		return wrapError(KindDecodeRank, err, -1, "Header", "decoding content-type text")
	}
	p.pendingContentType = "<|constrain|>" + text
	return nil
}

func (p *StreamParser) finalizeMessage(kind MessageEnd) error {
	if len(p.messages) == 0 {
		return nil
	}
	if len(p.pendingTail) > 0 {
		return newError(KindTruncatedUTF8, -1, "Content", "message ended mid-codepoint")
	}
	idx := len(p.messages) - 1
	p.messages[idx].Content = []Content{{Type: ContentText, Text: string(p.contentBytes)}}
	p.messages[idx].EndMarker = kind
	return nil
}

// ProcessEOS flushes any buffered content and finalizes the current message
// if its body is in progress. A message still in its header (no <|message|>
// yet) is not recorded. Used when the token stream ends without an explicit
// stop token (e.g. truncated generation).
func (p *StreamParser) ProcessEOS() error {
	if p.state != stContent {
		return nil
	}
	if len(p.pendingTail) > 0 {
		return newError(KindTruncatedUTF8, len(p.tokens)-1, "Content", "stream ended mid-codepoint")
	}
	return p.finalizeMessage(EndNormal)
}

func (p *StreamParser) resetHeader() {
	p.phase = phaseName
	p.sawChannelTok = false
	p.sawConstrainTok = false
	p.nameBuf = p.nameBuf[:0]
	p.channelBuf = p.channelBuf[:0]
	p.contentTypeBuf = p.contentTypeBuf[:0]
	p.gapBuf = p.gapBuf[:0]
	p.pendingAuthor = Author{}
	p.pendingChannel = ""
	p.pendingRecipient = ""
	p.pendingContentType = ""
}

func (p *StreamParser) decodeOneInto(token uint32) []byte {
	p.scratch = p.scratch[:0]
	one := [1]uint32{token}
	_ = p.enc.bpe.DecodeBytesInto(&p.scratch, one[:])
	return append([]byte(nil), p.scratch...)
}

func (p *StreamParser) decodeBuf(buf []byte) (string, error) {
	if len(buf) == 0 {
		return "", nil
	}
	return string(buf), nil
}

const recipientMarker = " to="

func lastIndexRecipientMarker(s string) int {
	for i := len(s) - len(recipientMarker); i >= 0; i-- {
		if s[i:i+len(recipientMarker)] == recipientMarker {
			return i
		}
	}
	return -1
}

func trimSpaceASCII(s string) string {
	start, end := 0, len(s)
	for start < end && isASCIISpace(s[start]) {
		start++
	}
	for end > start && isASCIISpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// splitCompleteUTF8 returns the longest prefix of b that ends on a complete
// rune boundary and the (possibly empty) trailing bytes that might still be
// part of an incomplete multi-byte sequence.
func splitCompleteUTF8(b []byte) (ready, pending []byte) {
	n := len(b)
	if n == 0 {
		return b, nil
	}
	limit := 4
	if limit > n {
		limit = n
	}
	for i := 1; i <= limit; i++ {
		c := b[n-i]
		if c < 0x80 {
			break // ASCII byte, nothing ahead of it can be a pending lead byte
		}
		if c >= 0xC0 {
			size := utf8SeqLen(c)
			if size > i {
				return b[:n-i], b[n-i:]
			}
			break
		}
		// continuation byte (10xxxxxx): keep walking back
	}
	return b, nil
}

func utf8SeqLen(lead byte) int {
	switch {
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}

// Messages returns all fully parsed messages so far.
func (p *StreamParser) Messages() []Message { return append([]Message(nil), p.messages...) }

// Tokens returns all tokens that have been fed to the parser.
func (p *StreamParser) Tokens() []uint32 { return append([]uint32(nil), p.tokens...) }

var streamStateNames = map[streamState]string{stExpectStart: "ExpectStart", stHeader: "Header", stContent: "Content"}

// stateName returns the human-readable name of the parser's current state,
// used in error messages and StateJSON.
func (p *StreamParser) stateName() string { return streamStateNames[p.state] }

// StateJSON exposes the current state for interop/debugging.
func (p *StreamParser) StateJSON() (string, error) {
	state := struct {
		State string `json:"state"`
	}{State: p.stateName()}
	b, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CurrentRole returns the role of the current message if known, otherwise the
// next role hint. Nil indicates the role is not yet known.
func (p *StreamParser) CurrentRole() *Role {
	switch p.state {
	case stContent:
		if len(p.messages) == 0 {
			return nil
		}
		r := p.messages[len(p.messages)-1].Author.Role
		return &r
	case stHeader:
		if p.phase != phaseName {
			r := p.pendingAuthor.Role
			return &r
		}
		return p.nextRole
	default:
		return p.nextRole
	}
}

// CurrentContent returns the textual content accumulated so far for the
// current message. Returns an empty string if no content is in progress.
func (p *StreamParser) CurrentContent() string {
	if p.state != stContent {
		return ""
	}
	return string(p.contentBytes)
}

// CurrentContentType returns the content-type marker (e.g., "<|constrain|>json")
// for the current message if known.
func (p *StreamParser) CurrentContentType() string {
	if p.state != stContent || len(p.messages) == 0 {
		return ""
	}
	return p.messages[len(p.messages)-1].ContentType
}

// CurrentChannel returns the channel for the current message if known.
func (p *StreamParser) CurrentChannel() string {
	if p.state != stContent || len(p.messages) == 0 {
		return ""
	}
	return p.messages[len(p.messages)-1].Channel
}

// CurrentRecipient returns the recipient for the current message if known.
func (p *StreamParser) CurrentRecipient() string {
	if p.state != stContent || len(p.messages) == 0 {
		return ""
	}
	return p.messages[len(p.messages)-1].Recipient
}

// LastContentDelta returns the most recent decoded fragment since the last
// Process call, if any.
func (p *StreamParser) LastContentDelta() string { return string(p.lastDeltaBytes) }
