package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ulanzi/decksim/pkg/deckctx"
)

// Command names carried in the "cmd" field.
const (
	// Plugin → hub.
	CmdConnected       = "connected"
	CmdState           = "state"
	CmdParamFromPlugin = "paramfromplugin"
	CmdOpenURL         = "openurl"

	// Deck → hub.
	CmdAdd         = "add"
	CmdSetActive   = "setactive"
	CmdClear       = "clear"
	CmdRun         = "run"
	CmdRefreshList = "refreshList"
	CmdActiveKeys  = "activeKeys"
	CmdConfig      = "config"

	// Hub → plugin / deck only.
	CmdParamFromApp  = "paramfromapp"
	CmdInit          = "init"
	CmdListUpdated   = "listUpdated"
	CmdConnectedMain = "connectedMain"
	CmdLog           = "log"
)

var (
	// ErrMalformedMessage is returned for payloads that are not a JSON object
	// with a string "cmd" field.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnknownCommand is returned for well-formed messages whose cmd is not
	// part of the protocol.
	ErrUnknownCommand = errors.New("unknown command")
)

// Envelope is the raw JSON object of a message. It is kept alongside the
// decoded fields so messages can be forwarded or echoed verbatim.
type Envelope struct {
	Cmd    string
	fields map[string]json.RawMessage
}

// Has reports whether the original object carried field.
func (e Envelope) Has(field string) bool {
	_, ok := e.fields[field]
	return ok
}

// IsAck reports whether the message carries a "code" field. Plugins echo
// the hub's acknowledgements back and those must not be routed again.
func (e Envelope) IsAck() bool { return e.Has("code") }

// Bytes re-encodes the original object.
func (e Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e.fields)
}

// With returns a copy of the object with field set to v, encoded.
func (e Envelope) With(field string, v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", field, err)
	}
	out := make(map[string]json.RawMessage, len(e.fields)+1)
	for k, f := range e.fields {
		out[k] = f
	}
	out[field] = raw
	return json.Marshal(out)
}

// Ack returns the acknowledgement for this message: the same object with
// "code": 0 added.
func (e Envelope) Ack() ([]byte, error) { return e.With("code", 0) }

// Inbound is one decoded message. The set of implementations is closed;
// consumers type-switch over the concrete types below.
type Inbound interface {
	Envelope() Envelope
	inbound()
}

type base struct{ env Envelope }

func (b base) Envelope() Envelope { return b.env }
func (base) inbound()             {}

// Connected is the first message of every plugin socket.
type Connected struct {
	base
	deckctx.Identity
}

// State carries an icon/state update from a main service to the deck.
type State struct {
	base
	deckctx.Identity
}

// ParamFromPlugin carries configuration between a main service and one of
// its action instances.
type ParamFromPlugin struct {
	base
	deckctx.Identity
	Param json.RawMessage
}

// OpenURL asks the deck to open a browser tab.
type OpenURL struct {
	base
	URL string
}

// Add is sent by the deck when an action is dropped on a key.
type Add struct {
	base
	deckctx.Identity
}

// SetActive toggles whether a key is visible and animated.
type SetActive struct {
	base
	deckctx.Identity
	Active bool
}

// Clear removes one or more actions from their keys.
type Clear struct {
	base
	Targets []deckctx.Identity
}

// Run is a key press.
type Run struct {
	base
	deckctx.Identity
}

// RefreshList asks the hub to reload the plugin catalog.
type RefreshList struct{ base }

// ActiveKeys replaces the whole key assignment map. Values are kept raw
// because the deck stores rendering data next to the identity fields.
type ActiveKeys struct {
	base
	Keys map[string]json.RawMessage
}

// Config replaces simulator settings such as language and ports.
type Config struct {
	base
	Settings json.RawMessage
}

// flexString accepts a JSON string or number.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("want string or number, got %s", b)
	}
	*s = flexString(n.String())
	return nil
}

type wireIdentity struct {
	UUID        flexString `json:"uuid"`
	Key         flexString `json:"key"`
	ActionID    flexString `json:"actionid"`
	ActionIDAlt flexString `json:"actionId"`
}

func (w wireIdentity) identity() deckctx.Identity {
	id := deckctx.Identity{UUID: string(w.UUID), Key: string(w.Key), ActionID: string(w.ActionID)}
	if id.ActionID == "" {
		id.ActionID = string(w.ActionIDAlt)
	}
	return id
}

// Decode parses one frame into its concrete message type. Only the fields a
// command uses are decoded, so an unrelated field of the wrong type does not
// reject the frame.
func Decode(data []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedMessage)
	}
	var cmd string
	if err := json.Unmarshal(fields["cmd"], &cmd); err != nil || cmd == "" {
		return nil, fmt.Errorf("%w: missing cmd", ErrMalformedMessage)
	}
	b := base{env: Envelope{Cmd: cmd, fields: fields}}

	switch cmd {
	case CmdConnected, CmdState, CmdParamFromPlugin, CmdAdd, CmdSetActive, CmdRun:
		var w wireIdentity
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, cmd, err)
		}
		return identityMessage(b, w.identity(), fields)
	case CmdOpenURL:
		var url string
		if err := field(fields, "url", &url); err != nil {
			return nil, err
		}
		return OpenURL{base: b, URL: url}, nil
	case CmdClear:
		var targets []wireIdentity
		if err := field(fields, "param", &targets); err != nil {
			return nil, fmt.Errorf("%w: clear: param must be a list", err)
		}
		c := Clear{base: b, Targets: make([]deckctx.Identity, 0, len(targets))}
		for _, t := range targets {
			c.Targets = append(c.Targets, t.identity())
		}
		return c, nil
	case CmdRefreshList:
		return RefreshList{base: b}, nil
	case CmdActiveKeys:
		var keys map[string]json.RawMessage
		if err := field(fields, "activeKeys", &keys); err != nil {
			return nil, err
		}
		return ActiveKeys{base: b, Keys: keys}, nil
	case CmdConfig:
		return Config{base: b, Settings: fields["config"]}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, strconv.Quote(cmd))
	}
}

// identityMessage builds the commands addressed by uuid, key and actionid.
func identityMessage(b base, id deckctx.Identity, fields map[string]json.RawMessage) (Inbound, error) {
	switch b.env.Cmd {
	case CmdConnected:
		return Connected{base: b, Identity: id}, nil
	case CmdState:
		return State{base: b, Identity: id}, nil
	case CmdParamFromPlugin:
		return ParamFromPlugin{base: b, Identity: id, Param: fields["param"]}, nil
	case CmdAdd:
		return Add{base: b, Identity: id}, nil
	case CmdSetActive:
		var active bool
		if err := field(fields, "active", &active); err != nil {
			return nil, err
		}
		return SetActive{base: b, Identity: id, Active: active}, nil
	default:
		return Run{base: b, Identity: id}, nil
	}
}

// field decodes fields[name] into v. A missing field leaves v untouched.
func field(fields map[string]json.RawMessage, name string, v any) error {
	raw, ok := fields[name]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, name, err)
	}
	return nil
}

// DecodeIdentity reads the uuid/key/actionid fields of a JSON object,
// ignoring any other fields.
func DecodeIdentity(raw json.RawMessage) (deckctx.Identity, error) {
	var w wireIdentity
	if err := json.Unmarshal(raw, &w); err != nil {
		return deckctx.Identity{}, fmt.Errorf("%w: identity: %v", ErrMalformedMessage, err)
	}
	return w.identity(), nil
}
