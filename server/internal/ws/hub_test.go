package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ulanzi/decksim/server/internal/catalog"
	"github.com/ulanzi/decksim/server/internal/config"
	"github.com/ulanzi/decksim/server/internal/registry"
	"github.com/ulanzi/decksim/server/internal/store"
	wsHub "github.com/ulanzi/decksim/server/internal/ws"
)

const (
	mainUUID   = "com.ulanzi.analogclock.ulanziPlugin"
	actionUUID = "com.ulanzi.analogclock.ulanziPlugin.clock"
)

// --- helpers ----------------------------------------------------------------

type staticCatalog struct {
	set     catalog.Set
	updates chan catalog.Set
}

func (c *staticCatalog) Current() (catalog.Set, bool) { return c.set, c.set != nil }
func (c *staticCatalog) Refresh()                      {}
func (c *staticCatalog) Subscribe() (<-chan catalog.Set, func()) {
	return c.updates, func() {}
}

type fixture struct {
	url string
	hub *wsHub.Hub
	reg *registry.Registry
	st  *store.Store
	cat *staticCatalog
	set *prometheus.Registry
}

// startHub starts a test HTTP server with the hub as its handler.
// The hub's Run loop is started with a cancellable context.
func startHub(t *testing.T) (*fixture, context.CancelFunc) {
	t.Helper()

	f := &fixture{
		reg: registry.New(),
		st:  store.New(),
		cat: &staticCatalog{
			set: catalog.Set{
				mainUUID: {Dir: mainUUID, UUID: mainUUID, Name: "Analog Clock", CodePath: "plugin/app.html"},
			},
			updates: make(chan catalog.Set, 1),
		},
		set: prometheus.NewRegistry(),
	}
	f.hub = wsHub.New(f.reg, f.st, f.cat, config.Defaults().Simulator, wsHub.Options{Metrics: f.set})

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(f.hub)
	go f.hub.Run(ctx)

	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	f.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return f, cancel
}

// dial connects a WebSocket client to path on the hub.
func dial(t *testing.T, f *fixture, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url+path, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(v)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
}

// readCmd reads messages until one with cmd arrives and returns it.
func readCmd(t *testing.T, conn *websocket.Conn, cmd string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", cmd, err)
		}
		var m map[string]any
		if err := json.Unmarshal(msg, &m); err != nil {
			t.Fatalf("unmarshal %s: %v", msg, err)
		}
		if m["cmd"] == cmd {
			return m
		}
	}
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- tests ------------------------------------------------------------------

func TestHub_DeckReceivesInitAndCatalog(t *testing.T) {
	f, _ := startHub(t)
	deck := dial(t, f, "/deckClient")

	initMsg := readCmd(t, deck, "init")
	if _, ok := initMsg["config"].(map[string]any); !ok {
		t.Errorf("init config: got %v", initMsg["config"])
	}
	list := readCmd(t, deck, "listUpdated")
	data, _ := list["data"].(map[string]any)
	if _, ok := data[mainUUID]; !ok {
		t.Errorf("listUpdated data: got %v", list["data"])
	}
	status := readCmd(t, deck, "connectedMain")
	if live, _ := status["connectedMain"].([]any); len(live) != 0 {
		t.Errorf("connectedMain: got %v, want empty", live)
	}
}

func TestHub_PluginRoundTrip(t *testing.T) {
	f, _ := startHub(t)
	deck := dial(t, f, "/deckClient")
	readCmd(t, deck, "connectedMain")

	main := dial(t, f, "/")
	send(t, main, `{"cmd":"connected","uuid":"`+mainUUID+`"}`)
	status := readCmd(t, deck, "connectedMain")
	if live, _ := status["connectedMain"].([]any); len(live) != 1 {
		t.Fatalf("connectedMain: got %v, want the clock", live)
	}

	action := dial(t, f, "/"+actionUUID)
	send(t, action, `{"cmd":"connected","uuid":"`+actionUUID+`","key":"0_0","actionid":"a1"}`)
	readCmd(t, action, "add")
	readCmd(t, action, "paramfromapp")

	send(t, action, `{"cmd":"paramfromplugin","uuid":"`+actionUUID+`","key":"0_0","actionid":"a1","param":{"color":"red"}}`)
	ack := readCmd(t, action, "paramfromplugin")
	if ack["code"] != float64(0) {
		t.Errorf("ack code: got %v", ack["code"])
	}
	fwd := readCmd(t, main, "paramfromplugin")
	if p, _ := fwd["param"].(map[string]any); p["color"] != "red" {
		t.Errorf("forwarded param: got %v", fwd["param"])
	}

	send(t, deck, `{"cmd":"run","uuid":"`+actionUUID+`","key":"0_0","actionid":"a1"}`)
	run := readCmd(t, main, "run")
	if p, _ := run["param"].(map[string]any); p["color"] != "red" {
		t.Errorf("run param: got %v", run["param"])
	}

	send(t, main, `{"cmd":"state","uuid":"`+actionUUID+`","key":"0_0","actionid":"a1","param":{"statelist":[]}}`)
	readCmd(t, deck, "state")
	readCmd(t, main, "state")
}

func TestHub_CountAndConnections(t *testing.T) {
	f, _ := startHub(t)
	deck := dial(t, f, "/deckClient")
	readCmd(t, deck, "init")
	dial(t, f, "/")

	eventually(t, "two sockets", func() bool { return f.hub.Count() == 2 })

	roles := map[string]int{}
	for _, c := range f.hub.Connections() {
		roles[c.Role]++
		if c.ID == "" {
			t.Error("connection without id")
		}
	}
	if roles["deck"] != 1 || roles[wsHub.RolePending] != 1 {
		t.Errorf("roles: got %v", roles)
	}
}

func TestHub_CloseRemovesRegistration(t *testing.T) {
	f, _ := startHub(t)
	main := dial(t, f, "/")
	other := dial(t, f, "/")
	send(t, main, `{"cmd":"connected","uuid":"`+mainUUID+`"}`)
	send(t, other, `{"cmd":"connected","uuid":"com.ulanzi.cputemp.ulanziPlugin"}`)

	eventually(t, "both mains registered", func() bool { return f.reg.Count()[registry.KindMain] == 2 })

	main.Close()

	eventually(t, "main removed", func() bool {
		_, ok := f.reg.LookupMain(mainUUID)
		return !ok
	})
	if _, ok := f.reg.LookupMain("com.ulanzi.cputemp.ulanziPlugin"); !ok {
		t.Error("closing one main removed the other")
	}
}

func TestHub_CatalogUpdateReachesDeck(t *testing.T) {
	f, _ := startHub(t)
	deck := dial(t, f, "/deckClient")
	readCmd(t, deck, "connectedMain")

	f.cat.updates <- catalog.Set{}
	list := readCmd(t, deck, "listUpdated")
	if data, _ := list["data"].(map[string]any); len(data) != 0 {
		t.Errorf("listUpdated: got %v, want empty", list["data"])
	}
}

func TestHub_UpdateSettingsVisibleToNextDeck(t *testing.T) {
	f, _ := startHub(t)
	s := f.hub.Settings()
	s.LoadAction = "yes"
	f.hub.UpdateSettings(s)

	eventually(t, "settings applied", func() bool { return f.hub.Settings().LoadAction == "yes" })

	deck := dial(t, f, "/deckClient")
	initMsg := readCmd(t, deck, "init")
	if cfg, _ := initMsg["config"].(map[string]any); cfg["loadAction"] != "yes" {
		t.Errorf("init config: got %v", initMsg["config"])
	}
}

func TestHub_Shutdown_ClosesConnections(t *testing.T) {
	f, cancel := startHub(t)
	conn := dial(t, f, "/")
	eventually(t, "socket tracked", func() bool { return f.hub.Count() == 1 })

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected the connection to be closed")
	}
	if ne, ok := err.(interface{ Timeout() bool }); ok && ne.Timeout() {
		t.Fatal("connection was not closed on shutdown")
	}
}

func TestHub_MetricsCountTraffic(t *testing.T) {
	f, _ := startHub(t)
	main := dial(t, f, "/")
	send(t, main, `{"cmd":"connected","uuid":"`+mainUUID+`"}`)
	send(t, main, `garbage`)

	eventually(t, "counters", func() bool {
		return counterValue(t, f.set, "decksim_messages_dropped_total", "malformed") == 1 &&
			counterValue(t, f.set, "decksim_connections_total", "main") == 1
	})
}

// counterValue returns the series of the counter family name whose label
// value is label, or 0 when absent.
func counterValue(t *testing.T, g prometheus.Gatherer, name, label string) float64 {
	t.Helper()
	mfs, err := g.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
