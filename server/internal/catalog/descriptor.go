package catalog

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Descriptor is one installed plugin as read from its manifest.json.
type Descriptor struct {
	// Dir is the plugin's folder name under the plugins directory. It is also
	// the URL prefix its assets are served under.
	Dir string

	UUID        string
	Name        string
	Description string
	Icon        string

	// CodePath tells a developer how the main service is started: a .js
	// file is run with node, anything else is opened in a browser.
	CodePath string

	Actions []Action

	// Localized holds the <language>.json overrides found next to the
	// manifest, keyed by language code.
	Localized map[string]Localization

	manifest map[string]json.RawMessage
}

// Action is one entry of a plugin's action list.
type Action struct {
	UUID                  string `json:"UUID"`
	Name                  string `json:"Name"`
	Icon                  string `json:"Icon"`
	Tooltip               string `json:"Tooltip"`
	PropertyInspectorPath string `json:"PropertyInspectorPath"`
}

// Localization is the translated subset of a manifest.
type Localization struct {
	Name        string `json:"Name"`
	Description string `json:"Description"`
	Actions     []struct {
		Name    string `json:"Name"`
		Tooltip string `json:"Tooltip"`
	} `json:"Actions"`

	raw json.RawMessage
}

type manifestFields struct {
	UUID        string   `json:"UUID"`
	Name        string   `json:"Name"`
	Description string   `json:"Description"`
	Icon        string   `json:"Icon"`
	CodePath    string   `json:"CodePath"`
	Actions     []Action `json:"Actions"`
}

// MarshalJSON emits the manifest as the deck expects it: the original
// object plus one <language>_DATA key per localization.
func (d Descriptor) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.manifest)+len(d.Localized))
	for k, v := range d.manifest {
		out[k] = v
	}
	if len(out) == 0 {
		b, err := json.Marshal(manifestFields{
			UUID: d.UUID, Name: d.Name, Description: d.Description,
			Icon: d.Icon, CodePath: d.CodePath, Actions: d.Actions,
		})
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(b, &out); err != nil {
			return nil, err
		}
	}
	for lang, l := range d.Localized {
		raw := l.raw
		if len(raw) == 0 {
			var err error
			if raw, err = json.Marshal(l); err != nil {
				return nil, err
			}
		}
		out[lang+"_DATA"] = raw
	}
	return json.Marshal(out)
}

// DisplayName returns the plugin name in language, falling back to the
// manifest name.
func (d Descriptor) DisplayName(language string) string {
	if l, ok := d.Localized[language]; ok && l.Name != "" {
		return l.Name
	}
	return d.Name
}

// Hint tells a developer how to start a plugin's main service.
type Hint struct {
	Msg  string
	Code string
}

// LaunchHint builds the human-facing instructions for starting d's main
// service against a simulator reachable at host:port.
func (d Descriptor) LaunchHint(host string, port int, language string) Hint {
	name := d.DisplayName(language)
	addr := strconv.Itoa(port)
	if strings.HasSuffix(d.CodePath, ".js") {
		return Hint{
			Msg:  fmt.Sprintf("%s main service %s is not connected. Run the following in the plugin root %s to start it", name, d.UUID, d.Dir),
			Code: fmt.Sprintf("node %s %s %s %s", d.CodePath, host, addr, language),
		}
	}
	q := url.Values{}
	q.Set("address", host)
	q.Set("port", addr)
	q.Set("language", language)
	q.Set("uuid", d.UUID)
	return Hint{
		Msg:  fmt.Sprintf("%s main service %s is not connected. Open the following link in a browser to start it", name, d.UUID),
		Code: fmt.Sprintf("http://%s:%s/%s/%s?%s", host, addr, d.Dir, d.CodePath, q.Encode()),
	}
}

// Set is a complete catalog keyed by plugin folder name. A Set is never
// patched in place; every refresh builds a new one.
type Set map[string]Descriptor

// Sorted returns the descriptors ordered by folder name.
func (s Set) Sorted() []Descriptor {
	out := make([]Descriptor, 0, len(s))
	for _, d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out
}

// ByUUID returns the descriptor whose main-service UUID is uuid.
func (s Set) ByUUID(uuid string) (Descriptor, bool) {
	for _, d := range s {
		if d.UUID == uuid {
			return d, true
		}
	}
	return Descriptor{}, false
}
