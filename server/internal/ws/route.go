package ws

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ulanzi/decksim/pkg/deckctx"
	"github.com/ulanzi/decksim/pkg/protocol"
	"github.com/ulanzi/decksim/server/internal/registry"
)

// Drop reasons reported in decksim_messages_dropped_total.
const (
	dropMalformed  = "malformed"
	dropUnroutable = "unroutable"
	dropAck        = "ack"
	dropUnexpected = "unexpected"
	dropOverflow   = "overflow"
)

func (h *Hub) connect(c registry.Conn, deck bool) {
	if !deck {
		// Plugin sockets are classified by their connected message.
		return
	}
	h.decks[c] = true
	h.m.connections.WithLabelValues("deck").Inc()
	h.deckConnected(c)
}

func (h *Hub) disconnect(c registry.Conn) {
	delete(h.decks, c)
	for _, e := range h.reg.Remove(c) {
		slog.Info("hub: connection removed", "kind", e.Kind, "key", e.Key)
	}
}

// message decodes one frame and routes it. Decoding failures never reach the
// routing code.
func (h *Hub) message(c registry.Conn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		h.m.dropped.WithLabelValues(dropMalformed).Inc()
		slog.Warn("hub: dropping message", "err", err, "deck", h.decks[c])
		return
	}
	h.m.received.WithLabelValues(msg.Envelope().Cmd).Inc()

	if h.decks[c] {
		h.routeDeck(msg)
		return
	}
	h.routePlugin(c, msg)
}

// routePlugin handles messages from main services and action instances.
func (h *Hub) routePlugin(from registry.Conn, msg protocol.Inbound) {
	if _, ok := msg.(protocol.Connected); !ok && msg.Envelope().IsAck() {
		// Plugins echo our acknowledgements back.
		h.m.dropped.WithLabelValues(dropAck).Inc()
		return
	}

	switch m := msg.(type) {
	case protocol.Connected:
		h.pluginConnected(from, m)
	case protocol.State:
		h.forwardToDeck(m.Envelope())
		h.ack(from, m.Envelope())
	case protocol.ParamFromPlugin:
		h.paramFromPlugin(from, m)
	case protocol.OpenURL:
		h.forwardToDeck(m.Envelope())
	default:
		h.m.dropped.WithLabelValues(dropUnexpected).Inc()
		slog.Debug("hub: ignoring deck command from plugin", "cmd", msg.Envelope().Cmd)
	}
}

// pluginConnected classifies a plugin socket. A four-segment uuid is a main
// service; anything longer is an action instance addressed by its context.
func (h *Hub) pluginConnected(from registry.Conn, m protocol.Connected) {
	role, err := deckctx.Classify(m.UUID)
	if err == nil && role == deckctx.RoleAction {
		err = deckctx.Validate(m.Identity)
	}
	if err != nil {
		h.m.dropped.WithLabelValues(dropMalformed).Inc()
		slog.Warn("hub: rejecting connected", "uuid", m.UUID, "err", err)
		h.deckLog(fmt.Sprintf("Rejected connection with malformed uuid %q", m.UUID), "")
		return
	}

	if role == deckctx.RoleMain {
		h.reg.RegisterMain(m.UUID, from)
		h.m.connections.WithLabelValues("main").Inc()
		slog.Info("hub: main service connected", "uuid", m.UUID)
		h.deckLog(fmt.Sprintf("Main service %s connected", m.UUID), "")
		h.checkMainState(true)
		return
	}

	id := m.Identity
	ctx := deckctx.Encode(id)
	h.reg.RegisterAction(ctx, from)
	h.m.connections.WithLabelValues("action").Inc()

	if h.st.IsKeyAssignedTo(id.Key, id.UUID, id.ActionID) {
		param, _ := h.st.GetParam(ctx)
		slog.Info("hub: action instance resumed", "context", ctx)
		h.deckLog(fmt.Sprintf("Action %s connected on key %s (actionid %s). Sending paramfromapp to the action and its main service", id.UUID, id.Key, id.ActionID), paramText(param))
		h.toAction(ctx, protocol.NewIdentityMessage(protocol.CmdParamFromApp, id, param))
		h.toMain(id.UUID, protocol.NewIdentityMessage(protocol.CmdParamFromApp, id, param))
		return
	}

	h.dropStaleParam(id, ctx)
	param, _ := h.st.GetParam(ctx)
	slog.Info("hub: action instance added", "context", ctx)
	h.deckLog(fmt.Sprintf("Action %s connected on key %s (actionid %s). Sending add and paramfromapp to the action", id.UUID, id.Key, id.ActionID), paramText(param))
	h.toAction(ctx, protocol.NewIdentityMessage(protocol.CmdAdd, id, param))
	h.toAction(ctx, protocol.NewIdentityMessage(protocol.CmdParamFromApp, id, param))
}

// dropStaleParam forgets the param stored for ctx when its key now belongs
// to a different plugin.
func (h *Hub) dropStaleParam(id deckctx.Identity, ctx string) {
	a, ok := h.st.Assigned(id.Key)
	if !ok {
		return
	}
	owner, err := deckctx.MainUUID(a.UUID)
	if err != nil {
		return
	}
	mine, _ := deckctx.MainUUID(id.UUID)
	if owner != mine && h.st.Clear(ctx) {
		slog.Info("hub: dropped param of reassigned key", "context", ctx, "owner", owner)
	}
}

// paramFromPlugin stores the param, acknowledges it and forwards it to the
// other side. The sender is the main service only if its socket is the one
// registered for the main uuid; the message content is not trusted for this.
func (h *Hub) paramFromPlugin(from registry.Conn, m protocol.ParamFromPlugin) {
	mainUUID, err := deckctx.MainUUID(m.UUID)
	if err == nil {
		err = deckctx.Validate(m.Identity)
	}
	if err != nil {
		h.m.dropped.WithLabelValues(dropMalformed).Inc()
		slog.Warn("hub: dropping paramfromplugin", "uuid", m.UUID, "err", err)
		return
	}

	ctx := deckctx.Encode(m.Identity)
	h.st.SetParam(ctx, m.Param)
	h.ack(from, m.Envelope())

	data, err := m.Envelope().Bytes()
	if err != nil {
		slog.Error("hub: encode paramfromplugin", "err", err)
		return
	}

	if h.reg.IsMain(mainUUID, from) {
		h.deckLog(fmt.Sprintf("Main service sent paramfromplugin; forwarding to %s. The hub keeps it and replays it as paramfromapp when the action reconnects", ctx), string(data))
		if c, ok := h.reg.LookupAction(ctx); ok {
			h.deliver(c, protocol.CmdParamFromPlugin, data)
		} else {
			h.unroutable(protocol.CmdParamFromPlugin, ctx)
		}
		return
	}

	h.deckLog(fmt.Sprintf("%s sent paramfromplugin; forwarding to the main service. The hub keeps it and replays it as paramfromapp when the action reconnects", ctx), string(data))
	if c, ok := h.reg.LookupMain(mainUUID); ok {
		h.deliver(c, protocol.CmdParamFromPlugin, data)
	} else {
		h.unroutable(protocol.CmdParamFromPlugin, mainUUID)
	}
}

// --- outbound ---------------------------------------------------------------

// ack echoes env back to its sender with code 0.
func (h *Hub) ack(to registry.Conn, env protocol.Envelope) {
	data, err := env.Ack()
	if err != nil {
		slog.Error("hub: encode ack", "cmd", env.Cmd, "err", err)
		return
	}
	h.deliver(to, env.Cmd, data)
}

// toMain sends v to the main service owning uuid.
func (h *Hub) toMain(uuid string, v any) bool {
	mainUUID, err := deckctx.MainUUID(uuid)
	if err != nil {
		h.m.dropped.WithLabelValues(dropMalformed).Inc()
		slog.Warn("hub: cannot derive main service", "uuid", uuid, "err", err)
		return false
	}
	c, ok := h.reg.LookupMain(mainUUID)
	if !ok {
		h.unroutable(cmdOf(v), mainUUID)
		return false
	}
	return h.sendTo(c, v)
}

// forwardEnvelopeToMain relays a deck message verbatim to the main service
// owning uuid.
func (h *Hub) forwardEnvelopeToMain(uuid string, env protocol.Envelope) {
	mainUUID, err := deckctx.MainUUID(uuid)
	if err != nil {
		h.m.dropped.WithLabelValues(dropMalformed).Inc()
		slog.Warn("hub: cannot derive main service", "cmd", env.Cmd, "uuid", uuid, "err", err)
		return
	}
	c, ok := h.reg.LookupMain(mainUUID)
	if !ok {
		h.unroutable(env.Cmd, mainUUID)
		return
	}
	data, err := env.Bytes()
	if err != nil {
		slog.Error("hub: encode", "cmd", env.Cmd, "err", err)
		return
	}
	h.deliver(c, env.Cmd, data)
}

// toAction sends v to the action instance registered for ctx.
func (h *Hub) toAction(ctx string, v any) bool {
	c, ok := h.reg.LookupAction(ctx)
	if !ok {
		h.unroutable(cmdOf(v), ctx)
		return false
	}
	return h.sendTo(c, v)
}

// toDeck sends v to the virtual deck, if one is connected.
func (h *Hub) toDeck(v any) bool {
	c, ok := h.reg.Deck()
	if !ok {
		return false
	}
	return h.sendTo(c, v)
}

// forwardToDeck relays a plugin message verbatim to the deck.
func (h *Hub) forwardToDeck(env protocol.Envelope) {
	c, ok := h.reg.Deck()
	if !ok {
		h.unroutable(env.Cmd, registry.KindDeck)
		return
	}
	data, err := env.Bytes()
	if err != nil {
		slog.Error("hub: encode", "cmd", env.Cmd, "err", err)
		return
	}
	h.deliver(c, env.Cmd, data)
}

// deckLog shows a developer-facing line in the deck's log panel.
func (h *Hub) deckLog(msg, code string) {
	h.toDeck(protocol.NewLog(time.Now(), msg, code))
}

func (h *Hub) sendTo(c registry.Conn, v any) bool {
	data, err := protocol.Marshal(v)
	if err != nil {
		slog.Error("hub: encode", "cmd", cmdOf(v), "err", err)
		return false
	}
	return h.deliver(c, cmdOf(v), data)
}

// deliver queues data on c. A closed or overflowing connection is a drop,
// never an error for the hub.
func (h *Hub) deliver(c registry.Conn, cmd string, data []byte) bool {
	err := c.Send(data)
	switch {
	case err == nil:
		h.m.routed.WithLabelValues(cmd).Inc()
		return true
	case errors.Is(err, registry.ErrStaleConnection):
		h.m.dropped.WithLabelValues(dropUnroutable).Inc()
		slog.Debug("hub: target already closed", "cmd", cmd)
	default:
		h.m.dropped.WithLabelValues(dropOverflow).Inc()
		slog.Warn("hub: send failed", "cmd", cmd, "err", err)
	}
	return false
}

func (h *Hub) unroutable(cmd string, target any) {
	h.m.dropped.WithLabelValues(dropUnroutable).Inc()
	slog.Debug("hub: no live target", "cmd", cmd, "target", target)
}

// cmdOf returns the cmd of an outbound message for logging and metrics.
func cmdOf(v any) string {
	switch m := v.(type) {
	case protocol.IdentityMessage:
		return m.Cmd
	case protocol.SetActiveMessage:
		return m.Cmd
	case protocol.InitMessage:
		return m.Cmd
	case protocol.ListUpdatedMessage:
		return m.Cmd
	case protocol.ConnectedMainMessage:
		return m.Cmd
	case protocol.LogMessage:
		return m.Cmd
	default:
		return "unknown"
	}
}

// paramText renders a param for a deck log line; absent or null is "".
func paramText(p []byte) string {
	if len(p) == 0 || string(p) == "null" {
		return ""
	}
	return string(p)
}
