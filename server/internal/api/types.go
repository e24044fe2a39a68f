package api

import (
	"encoding/json"
	"time"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	DeckConnected bool   `json:"deck_connected"`
	Sockets       int    `json:"sockets"`
	MainServices  int    `json:"main_services"`
	Actions       int    `json:"actions"`
	CatalogLoaded bool   `json:"catalog_loaded"`
	Plugins       int    `json:"plugins"`
	Params        int    `json:"params"`
	ActiveKeys    int    `json:"active_keys"`
	Language      string `json:"language"`
}

// PluginResponse is one entry in GET /api/v1/plugins.
type PluginResponse struct {
	UUID       string           `json:"uuid"`
	Dir        string           `json:"dir"`
	Name       string           `json:"name"`
	CodePath   string           `json:"code_path"`
	Actions    []ActionResponse `json:"actions"`
	Connected  bool             `json:"connected"`
	LaunchHint *HintResponse    `json:"launch_hint,omitempty"`
}

// ActionResponse is one action of a plugin.
type ActionResponse struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	Tooltip string `json:"tooltip,omitempty"`
}

// HintResponse tells a developer how to start a main service.
type HintResponse struct {
	Msg  string `json:"msg"`
	Code string `json:"code"`
}

// KeyResponse is one entry in GET /api/v1/keys.
type KeyResponse struct {
	Key      string `json:"key"`
	UUID     string `json:"uuid"`
	ActionID string `json:"actionid"`
	Context  string `json:"context"`
	HasParam bool   `json:"has_param"`
	Live     bool   `json:"live"`
}

// ParamResponse is the payload for GET /api/v1/params/{context}.
type ParamResponse struct {
	Context   string          `json:"context"`
	UUID      string          `json:"uuid"`
	Key       string          `json:"key"`
	ActionID  string          `json:"actionid"`
	Param     json.RawMessage `json:"param"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
