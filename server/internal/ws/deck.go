package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ulanzi/decksim/pkg/deckctx"
	"github.com/ulanzi/decksim/pkg/protocol"
	"github.com/ulanzi/decksim/server/internal/catalog"
	"github.com/ulanzi/decksim/server/internal/config"
	"github.com/ulanzi/decksim/server/internal/registry"
	"github.com/ulanzi/decksim/server/internal/store"
)

// deckConnected installs c as the deck and brings it up to date: settings
// and key assignments, the plugin list and which main services are live.
// Live main services owning an assigned key are told to re-send their icon
// state.
func (h *Hub) deckConnected(c registry.Conn) {
	if prev := h.reg.SetDeck(c); prev != nil && prev != c {
		// The old socket stays open but its frames are plugin traffic now.
		delete(h.decks, prev)
		slog.Info("hub: deck replaced")
	}
	slog.Info("hub: deck connected")
	h.deckLog("Connected to the deck simulator. Waiting for plugins...", "")

	keys := h.st.ActiveKeys()
	h.sendTo(c, protocol.InitMessage{
		Cmd:        protocol.CmdInit,
		Config:     h.Settings(),
		ActiveKeys: keys,
	})

	if h.loaded {
		h.sendTo(c, protocol.ListUpdatedMessage{Cmd: protocol.CmdListUpdated, Data: h.plugins})
		h.checkMainState(false)
	}

	if len(keys) == 0 {
		return
	}
	h.deckLog("Deck reloaded. Sending setactive to running main services; they should answer with their current icon state", "")
	for _, k := range sortedKeys(keys) {
		a := keys[k]
		mainUUID, err := deckctx.MainUUID(a.UUID)
		if err != nil {
			continue
		}
		if m, ok := h.reg.LookupMain(mainUUID); ok {
			h.sendTo(m, protocol.NewSetActive(a.Identity, true))
		}
	}
}

// routeDeck handles commands from the virtual deck.
func (h *Hub) routeDeck(msg protocol.Inbound) {
	switch m := msg.(type) {
	case protocol.Add:
		h.deckAdd(m)
	case protocol.Run:
		param, _ := h.st.GetParam(deckctx.Encode(m.Identity))
		h.toMain(m.UUID, protocol.NewIdentityMessage(protocol.CmdRun, m.Identity, param))
	case protocol.SetActive:
		h.forwardEnvelopeToMain(m.UUID, m.Envelope())
	case protocol.Clear:
		h.deckClear(m)
	case protocol.RefreshList:
		slog.Info("hub: plugin list refresh requested")
		h.deckLog("Loading plugin list...", "")
		h.refreshCatalog()
	case protocol.ActiveKeys:
		h.deckActiveKeys(m)
	case protocol.Config:
		next, err := h.Settings().Merge(m.Settings)
		if err != nil {
			slog.Warn("hub: rejecting deck config", "err", err)
			h.deckLog("Rejected configuration: "+err.Error(), "")
			return
		}
		h.applySettings(next)
	default:
		h.m.dropped.WithLabelValues(dropUnexpected).Inc()
		slog.Debug("hub: ignoring plugin command from deck", "cmd", msg.Envelope().Cmd)
	}
}

// deckAdd assigns an action to a key and tells its main service, replaying
// any param stored for the context.
func (h *Hub) deckAdd(m protocol.Add) {
	if err := deckctx.Validate(m.Identity); err != nil {
		h.m.dropped.WithLabelValues(dropMalformed).Inc()
		slog.Warn("hub: dropping add", "err", err)
		return
	}
	h.st.Assign(store.Assignment{Identity: m.Identity})

	param, _ := h.st.GetParam(deckctx.Encode(m.Identity))
	if h.toMain(m.UUID, protocol.NewIdentityMessage(protocol.CmdAdd, m.Identity, param)) {
		h.toMain(m.UUID, protocol.NewIdentityMessage(protocol.CmdParamFromApp, m.Identity, param))
	}
}

// deckClear forwards the clear to the main service of the first target and
// forgets every listed context.
func (h *Hub) deckClear(m protocol.Clear) {
	if len(m.Targets) == 0 {
		h.m.dropped.WithLabelValues(dropMalformed).Inc()
		slog.Warn("hub: dropping clear without targets")
		return
	}
	h.forwardEnvelopeToMain(m.Targets[0].UUID, m.Envelope())

	for _, t := range m.Targets {
		ctx := deckctx.Encode(t)
		cleared := h.st.Clear(ctx)
		unassigned := h.st.Unassign(t)
		slog.Debug("hub: cleared", "context", ctx, "param", cleared, "key", unassigned)
	}
}

// deckActiveKeys replaces the key assignment map. Entries without a uuid are
// skipped; a missing key field is taken from the map key.
func (h *Hub) deckActiveKeys(m protocol.ActiveKeys) {
	keys := make(map[string]store.Assignment, len(m.Keys))
	for k, raw := range m.Keys {
		id, err := protocol.DecodeIdentity(raw)
		if err != nil || id.UUID == "" {
			slog.Debug("hub: skipping active key", "key", k, "err", err)
			continue
		}
		if id.Key == "" {
			id.Key = k
		}
		keys[k] = store.Assignment{Identity: id, Raw: append(json.RawMessage(nil), raw...)}
	}
	h.st.SetActiveKeys(keys)
	slog.Debug("hub: active keys replaced", "count", len(keys))
}

// applySettings installs s. A language change reloads the catalog so
// localized names follow.
func (h *Hub) applySettings(s config.SimulatorConfig) {
	h.settingsMu.Lock()
	prev := h.settings
	h.settings = s
	h.settingsMu.Unlock()

	if s.Language != prev.Language {
		slog.Info("hub: language changed", "from", prev.Language, "to", s.Language)
		h.deckLog("Switching plugin language...", "")
		h.refreshCatalog()
	}
}

func (h *Hub) refreshCatalog() {
	if h.cat != nil {
		h.cat.Refresh()
	}
}

// catalogChanged stores a freshly loaded catalog and pushes it to the deck.
func (h *Hub) catalogChanged(set catalog.Set) {
	h.plugins = set
	h.loaded = true
	h.m.reloads.Inc()
	h.toDeck(protocol.ListUpdatedMessage{Cmd: protocol.CmdListUpdated, Data: set})
	h.checkMainState(false)
}

// checkMainState sends the deck the catalog entries whose main service is
// live. Unless onlyCheck is set, every plugin also gets a log line: connected,
// or how to start it.
func (h *Hub) checkMainState(onlyCheck bool) {
	if !h.loaded {
		return
	}
	s := h.Settings()
	live := make([]catalog.Descriptor, 0, len(h.plugins))
	for _, d := range h.plugins.Sorted() {
		if _, ok := h.reg.LookupMain(d.UUID); ok {
			live = append(live, d)
			if !onlyCheck {
				h.deckLog(fmt.Sprintf("%s main service %s connected", d.DisplayName(s.Language), d.UUID), "")
			}
			continue
		}
		if !onlyCheck {
			hint := d.LaunchHint(h.host, s.ServerPort, s.Language)
			h.deckLog(hint.Msg, hint.Code)
		}
	}
	h.toDeck(protocol.ConnectedMainMessage{Cmd: protocol.CmdConnectedMain, ConnectedMain: live})
}

func sortedKeys(m map[string]store.Assignment) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
