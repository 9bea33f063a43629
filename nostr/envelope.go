package nostr

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Relay message labels.
const (
	LabelEvent    = "EVENT"
	LabelReq      = "REQ"
	LabelClose    = "CLOSE"
	LabelClosed   = "CLOSED"
	LabelEOSE     = "EOSE"
	LabelNotice   = "NOTICE"
	LabelOK       = "OK"
	LabelNegOpen  = "NEG-OPEN"
	LabelNegMsg   = "NEG-MSG"
	LabelNegClose = "NEG-CLOSE"
	LabelNegErr   = "NEG-ERR"
)

// ErrBadEnvelope is returned for relay messages that are not well-formed.
var ErrBadEnvelope = errors.New("bad envelope")

// Envelope is a decoded relay message: a JSON array with a string label
// followed by label-specific arguments.
type Envelope struct {
	Label string
	Args  []json.RawMessage
}

// ParseEnvelope decodes a relay message.
func ParseEnvelope(data []byte) (Envelope, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if len(raw) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty array", ErrBadEnvelope)
	}
	var env Envelope
	if err := json.Unmarshal(raw[0], &env.Label); err != nil {
		return Envelope{}, fmt.Errorf("%w: label: %v", ErrBadEnvelope, err)
	}
	env.Args = raw[1:]
	return env, nil
}

// SubID returns the subscription ID carried by the envelope, if any.
// NOTICE and OK messages, as well as client-to-relay EVENT messages,
// don't carry a subscription ID.
func (e Envelope) SubID() (string, bool) {
	switch e.Label {
	case LabelNotice, LabelOK:
		return "", false
	case LabelEvent:
		if len(e.Args) < 2 {
			return "", false
		}
	}
	if len(e.Args) == 0 {
		return "", false
	}
	s, err := e.String(0)
	if err != nil {
		return "", false
	}
	return s, true
}

// String decodes the n-th argument as a string.
func (e Envelope) String(n int) (string, error) {
	if n >= len(e.Args) {
		return "", fmt.Errorf("%w: %s: missing argument %d", ErrBadEnvelope, e.Label, n)
	}
	var s string
	if err := json.Unmarshal(e.Args[n], &s); err != nil {
		return "", fmt.Errorf("%w: %s: argument %d: %v", ErrBadEnvelope, e.Label, n, err)
	}
	return s, nil
}

// Hex decodes the n-th argument as a hex string.
func (e Envelope) Hex(n int) ([]byte, error) {
	s, err := e.String(n)
	if err != nil {
		return nil, err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: argument %d: %v", ErrBadEnvelope, e.Label, n, err)
	}
	return b, nil
}

// Filter decodes the n-th argument as a filter.
func (e Envelope) Filter(n int) (Filter, error) {
	var f Filter
	if n >= len(e.Args) {
		return f, fmt.Errorf("%w: %s: missing filter", ErrBadEnvelope, e.Label)
	}
	if err := json.Unmarshal(e.Args[n], &f); err != nil {
		return f, fmt.Errorf("%w: %s: filter: %v", ErrBadEnvelope, e.Label, err)
	}
	return f, nil
}

// Event decodes the n-th argument as an event, also returning the raw JSON.
func (e Envelope) Event(n int) (*Event, json.RawMessage, error) {
	if n >= len(e.Args) {
		return nil, nil, fmt.Errorf("%w: %s: missing event", ErrBadEnvelope, e.Label)
	}
	var ev Event
	if err := json.Unmarshal(e.Args[n], &ev); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: event: %v", ErrBadEnvelope, e.Label, err)
	}
	return &ev, e.Args[n], nil
}

func encode(v ...any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("BUG: can't encode envelope: " + err.Error())
	}
	return b
}

// NegOpen encodes ["NEG-OPEN", sub, filter, hex(msg)].
func NegOpen(sub string, f Filter, msg []byte) []byte {
	return encode(LabelNegOpen, sub, f, hex.EncodeToString(msg))
}

// NegMsg encodes ["NEG-MSG", sub, hex(msg)].
func NegMsg(sub string, msg []byte) []byte {
	return encode(LabelNegMsg, sub, hex.EncodeToString(msg))
}

// NegClose encodes ["NEG-CLOSE", sub].
func NegClose(sub string) []byte {
	return encode(LabelNegClose, sub)
}

// NegErr encodes ["NEG-ERR", sub, reason].
func NegErr(sub, reason string) []byte {
	return encode(LabelNegErr, sub, reason)
}

// Req encodes ["REQ", sub, filters...].
func Req(sub string, filters ...Filter) []byte {
	v := []any{LabelReq, sub}
	for _, f := range filters {
		v = append(v, f)
	}
	return encode(v...)
}

// Close encodes ["CLOSE", sub].
func Close(sub string) []byte {
	return encode(LabelClose, sub)
}

// SubEvent encodes a relay-to-client ["EVENT", sub, event].
func SubEvent(sub string, raw json.RawMessage) []byte {
	return encode(LabelEvent, sub, raw)
}

// EOSE encodes ["EOSE", sub].
func EOSE(sub string) []byte {
	return encode(LabelEOSE, sub)
}

// Closed encodes ["CLOSED", sub, reason].
func Closed(sub, reason string) []byte {
	return encode(LabelClosed, sub, reason)
}

// Notice encodes ["NOTICE", msg].
func Notice(msg string) []byte {
	return encode(LabelNotice, msg)
}
