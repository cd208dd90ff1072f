// Package harmony provides a pure Go implementation of the
// OpenAI Harmony rendering and parsing format used by gpt-oss.
//
// It mirrors the upstream Harmony APIs used by the Rust and Python stacks: you can render conversations to
// token sequences, parse model outputs back to messages, and stream
// parse incrementally.
package harmony
