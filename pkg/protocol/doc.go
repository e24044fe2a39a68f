// Package protocol defines the JSON messages exchanged over the simulator's
// WebSocket connections, shared by the hub and by plugin clients.
//
// Every frame is a JSON object with a "cmd" field. Decode turns a frame into
// one of a closed set of Inbound types (Connected, State, ParamFromPlugin,
// OpenURL, Add, SetActive, Clear, Run, RefreshList, ActiveKeys, Config) and
// keeps the raw object in an Envelope so it can be forwarded verbatim or
// acknowledged by echoing it with "code": 0.
//
// Identity fields are accepted as "actionid" or "actionId" and as strings or
// numbers; outbound messages always use "actionid".
package protocol
