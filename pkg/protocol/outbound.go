package protocol

import (
	"encoding/json"
	"time"

	"github.com/ulanzi/decksim/pkg/deckctx"
)

// LogTimeLayout formats the time field of deck log lines.
const LogTimeLayout = "2006/01/02 15:04:05"

// IdentityMessage is add, paramfromapp, run or setactive addressed to a
// plugin. Param is always present on the wire; absent configuration is null.
type IdentityMessage struct {
	Cmd      string          `json:"cmd"`
	UUID     string          `json:"uuid"`
	Key      string          `json:"key"`
	ActionID string          `json:"actionid"`
	Param    json.RawMessage `json:"param"`
	Active   *bool           `json:"active,omitempty"`
}

// NewIdentityMessage builds cmd for id. A nil param is sent as null.
func NewIdentityMessage(cmd string, id deckctx.Identity, param json.RawMessage) IdentityMessage {
	if len(param) == 0 {
		param = json.RawMessage("null")
	}
	return IdentityMessage{Cmd: cmd, UUID: id.UUID, Key: id.Key, ActionID: id.ActionID, Param: param}
}

// NewSetActive builds a setactive message without a param field.
func NewSetActive(id deckctx.Identity, active bool) SetActiveMessage {
	return SetActiveMessage{Cmd: CmdSetActive, UUID: id.UUID, Key: id.Key, ActionID: id.ActionID, Active: active}
}

// SetActiveMessage is sent to main services when the deck (re)activates a key.
type SetActiveMessage struct {
	Cmd      string `json:"cmd"`
	UUID     string `json:"uuid"`
	Key      string `json:"key"`
	ActionID string `json:"actionid"`
	Active   bool   `json:"active"`
}

// InitMessage is the first message a deck receives.
type InitMessage struct {
	Cmd        string `json:"cmd"`
	Config     any    `json:"config"`
	ActiveKeys any    `json:"activeKeys"`
}

// ListUpdatedMessage carries the full plugin catalog to the deck.
type ListUpdatedMessage struct {
	Cmd  string `json:"cmd"`
	Data any    `json:"data"`
}

// ConnectedMainMessage lists the catalog entries whose main service is live.
type ConnectedMainMessage struct {
	Cmd           string `json:"cmd"`
	ConnectedMain any    `json:"connectedMain"`
}

// LogMessage is a developer-facing line shown in the deck's log panel.
// Code holds a copy-pasteable command or URL.
type LogMessage struct {
	Cmd  string `json:"cmd"`
	Time string `json:"time"`
	Msg  string `json:"msg"`
	Code string `json:"code,omitempty"`
}

// NewLog builds a log line stamped with t.
func NewLog(t time.Time, msg, code string) LogMessage {
	return LogMessage{Cmd: CmdLog, Time: t.Format(LogTimeLayout), Msg: msg, Code: code}
}

// Marshal encodes an outbound message.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
