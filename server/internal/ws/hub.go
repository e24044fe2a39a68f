package ws

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ulanzi/decksim/server/internal/catalog"
	"github.com/ulanzi/decksim/server/internal/config"
	"github.com/ulanzi/decksim/server/internal/registry"
	"github.com/ulanzi/decksim/server/internal/store"
)

// DeckPath is the trailing URL segment that marks the virtual deck socket.
const DeckPath = "deckClient"

// eventBuffer is the depth of the hub's inbound event queue.
const eventBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Plugins run from file://, other ports and node; accept every origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Catalog is the plugin catalog as seen by the hub.
type Catalog interface {
	Current() (catalog.Set, bool)
	Refresh()
	Subscribe() (<-chan catalog.Set, func())
}

// Options tunes a Hub. Zero values select defaults.
type Options struct {
	// Host is advertised in launch hints for unconnected main services.
	Host string

	// SendBuffer is the per-connection outbound queue depth.
	SendBuffer int

	// Metrics receives hub counters and gauges. Nil keeps them on a
	// private registry.
	Metrics prometheus.Registerer
}

// Hub routes messages between the virtual deck and plugin connections.
//
// Every state change (registration, params, key assignments, settings,
// catalog) happens on the goroutine running Run. ServeHTTP goroutines only
// read frames and post them as events.
type Hub struct {
	reg  *registry.Registry
	st   *store.Store
	cat  Catalog
	host string
	buf  int
	m    hubMetrics

	events  chan any
	updates <-chan catalog.Set
	unsub   func()
	quit    chan struct{}
	runOnce sync.Once

	// Owned by Run.
	decks   map[registry.Conn]bool
	plugins catalog.Set
	loaded  bool

	settingsMu sync.RWMutex
	settings   config.SimulatorConfig

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type connectEvent struct {
	conn registry.Conn
	deck bool
}

type messageEvent struct {
	conn registry.Conn
	data []byte
}

type closeEvent struct {
	conn registry.Conn
}

type settingsEvent struct {
	settings config.SimulatorConfig
}

type catalogEvent struct {
	set catalog.Set
}

// New creates a Hub over the given stores. cat may be nil, in which case the
// deck never receives a plugin list and refresh requests are ignored.
func New(reg *registry.Registry, st *store.Store, cat Catalog, settings config.SimulatorConfig, opts Options) *Hub {
	if opts.Host == "" {
		opts.Host = config.DefaultHost
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = config.DefaultSendBuffer
	}
	if opts.Metrics == nil {
		opts.Metrics = prometheus.NewRegistry()
	}

	h := &Hub{
		reg:      reg,
		st:       st,
		cat:      cat,
		host:     opts.Host,
		buf:      opts.SendBuffer,
		m:        newHubMetrics(),
		events:   make(chan any, eventBuffer),
		unsub:    func() {},
		quit:     make(chan struct{}),
		decks:    make(map[registry.Conn]bool),
		settings: settings,
		clients:  make(map[*client]struct{}),
	}
	if cat != nil {
		h.plugins, h.loaded = cat.Current()
		h.updates, h.unsub = cat.Subscribe()
	}
	h.register(opts.Metrics)
	return h
}

// Run processes connection events and catalog updates until ctx is
// cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	defer h.runOnce.Do(func() { close(h.quit) })
	defer h.unsub()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev := <-h.events:
			h.handle(ev)
		case set, ok := <-h.updates:
			if !ok {
				h.updates = nil
				continue
			}
			h.handle(catalogEvent{set: set})
		}
	}
}

// ServeHTTP upgrades the request to WebSocket and serves one connection.
// A path ending in DeckPath is the virtual deck; everything else is a
// plugin socket classified by its first connected message. Blocks until the
// connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := newClient(uuid.NewString(), r.RemoteAddr, conn, h.buf)
	deck := path.Base(strings.TrimSuffix(r.URL.Path, "/")) == DeckPath
	slog.Debug("ws: connection opened", "client", c.id, "remote", c.remote, "deck", deck)

	h.track(c)
	defer h.untrack(c)

	if !h.post(connectEvent{conn: c, deck: deck}) {
		c.close()
		conn.Close()
		return
	}

	go c.writePump()
	c.readPump(func(data []byte) {
		h.post(messageEvent{conn: c, data: data})
	})

	c.close()
	h.post(closeEvent{conn: c})
	slog.Debug("ws: connection closed", "client", c.id)
}

// UpdateSettings replaces the simulator settings, as if the deck had sent a
// config message. A language change reloads the catalog.
func (h *Hub) UpdateSettings(s config.SimulatorConfig) {
	h.post(settingsEvent{settings: s})
}

// Settings returns the current simulator settings.
func (h *Hub) Settings() config.SimulatorConfig {
	h.settingsMu.RLock()
	defer h.settingsMu.RUnlock()
	return h.settings
}

// Count returns the number of open sockets, classified or not.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ConnInfo describes one open socket for the inspection API.
type ConnInfo struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Key         string    `json:"key,omitempty"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
}

// RolePending marks a plugin socket that has not sent connected yet.
const RolePending = "pending"

// Connections lists open sockets with the registry entries they hold,
// oldest first. A socket holding no entry is reported as pending.
func (h *Hub) Connections() []ConnInfo {
	byConn := make(map[registry.Conn][]registry.Entry)
	for _, e := range h.reg.Entries() {
		byConn[e.Conn] = append(byConn[e.Conn], e)
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool {
		if !clients[i].connectedAt.Equal(clients[j].connectedAt) {
			return clients[i].connectedAt.Before(clients[j].connectedAt)
		}
		return clients[i].id < clients[j].id
	})

	out := make([]ConnInfo, 0, len(clients))
	for _, c := range clients {
		base := ConnInfo{ID: c.id, Role: RolePending, Remote: c.remote, ConnectedAt: c.connectedAt}
		entries := byConn[c]
		if len(entries) == 0 {
			out = append(out, base)
			continue
		}
		for _, e := range entries {
			info := base
			info.Role = string(e.Kind)
			info.Key = e.Key
			out = append(out, info)
		}
	}
	return out
}

// --- internal ---------------------------------------------------------------

// post queues ev for Run. It returns false once Run has exited.
func (h *Hub) post(ev any) bool {
	select {
	case h.events <- ev:
		return true
	case <-h.quit:
		return false
	}
}

// handle applies one event. Only Run calls it, except in tests.
func (h *Hub) handle(ev any) {
	switch ev := ev.(type) {
	case connectEvent:
		h.connect(ev.conn, ev.deck)
	case messageEvent:
		h.message(ev.conn, ev.data)
	case closeEvent:
		h.disconnect(ev.conn)
	case settingsEvent:
		h.applySettings(ev.settings)
	case catalogEvent:
		h.catalogChanged(ev.set)
	default:
		slog.Error("ws: unknown event", "type", ev)
	}
}

func (h *Hub) track(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) untrack(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.close()
	}
}
