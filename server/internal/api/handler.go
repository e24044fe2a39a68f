package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/ulanzi/decksim/pkg/deckctx"
	"github.com/ulanzi/decksim/server/internal/catalog"
	"github.com/ulanzi/decksim/server/internal/config"
	"github.com/ulanzi/decksim/server/internal/registry"
	"github.com/ulanzi/decksim/server/internal/store"
	"github.com/ulanzi/decksim/server/internal/ws"
)

// Hub is the part of the routing hub the API reads.
type Hub interface {
	Count() int
	Connections() []ws.ConnInfo
	Settings() config.SimulatorConfig
}

// Catalog is the part of the plugin catalog the API uses.
type Catalog interface {
	Current() (catalog.Set, bool)
	Refresh()
}

// Deps are the stores the API reports on.
type Deps struct {
	Hub      Hub
	Catalog  Catalog
	Registry *registry.Registry
	Store    *store.Store

	// Host is advertised in launch hints.
	Host string
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	deps   Deps
	router *mux.Router
}

// New creates a Handler and registers all routes.
func New(deps Deps) http.Handler {
	if deps.Host == "" {
		deps.Host = config.DefaultHost
	}
	h := &Handler{deps: deps, router: mux.NewRouter()}

	r := h.router.PathPrefix("/api/v1").Subrouter()
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/plugins", h.plugins).Methods(http.MethodGet)
	r.HandleFunc("/connections", h.connections).Methods(http.MethodGet)
	r.HandleFunc("/keys", h.keys).Methods(http.MethodGet)
	r.HandleFunc("/params", h.listParams).Methods(http.MethodGet)
	r.HandleFunc("/params/{context}", h.getParam).Methods(http.MethodGet)
	r.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost)

	h.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	h.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health: connection, catalog and store counts.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	n := h.deps.Registry.Count()
	_, deck := h.deps.Registry.Deck()
	set, loaded := h.catalog()

	jsonResp(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		DeckConnected: deck,
		Sockets:       h.deps.Hub.Count(),
		MainServices:  n[registry.KindMain],
		Actions:       n[registry.KindAction],
		CatalogLoaded: loaded,
		Plugins:       len(set),
		Params:        h.deps.Store.Count(),
		ActiveKeys:    len(h.deps.Store.ActiveKeys()),
		Language:      h.deps.Hub.Settings().Language,
	})
}

// plugins returns GET /api/v1/plugins: the catalog with live status and, for
// plugins whose main service is not connected, the launch hint.
func (h *Handler) plugins(w http.ResponseWriter, _ *http.Request) {
	set, _ := h.catalog()
	live := h.liveMains()
	s := h.deps.Hub.Settings()

	out := make([]PluginResponse, 0, len(set))
	for _, d := range set.Sorted() {
		p := PluginResponse{
			UUID:      d.UUID,
			Dir:       d.Dir,
			Name:      d.DisplayName(s.Language),
			CodePath:  d.CodePath,
			Actions:   make([]ActionResponse, 0, len(d.Actions)),
			Connected: live[d.UUID],
		}
		for _, a := range d.Actions {
			p.Actions = append(p.Actions, ActionResponse{UUID: a.UUID, Name: a.Name, Tooltip: a.Tooltip})
		}
		if !p.Connected {
			hint := d.LaunchHint(h.deps.Host, s.ServerPort, s.Language)
			p.LaunchHint = &HintResponse{Msg: hint.Msg, Code: hint.Code}
		}
		out = append(out, p)
	}
	jsonResp(w, http.StatusOK, out)
}

// connections returns GET /api/v1/connections: every open socket.
func (h *Handler) connections(w http.ResponseWriter, _ *http.Request) {
	jsonResp(w, http.StatusOK, h.deps.Hub.Connections())
}

// keys returns GET /api/v1/keys: the active key assignments ordered by key.
func (h *Handler) keys(w http.ResponseWriter, _ *http.Request) {
	assigned := h.deps.Store.ActiveKeys()
	actions := make(map[string]bool)
	for _, e := range h.deps.Registry.Entries() {
		if e.Kind == registry.KindAction && e.Conn.Alive() {
			actions[e.Key] = true
		}
	}

	out := make([]KeyResponse, 0, len(assigned))
	for _, k := range sortedKeys(assigned) {
		a := assigned[k]
		ctx := deckctx.Encode(a.Identity)
		_, has := h.deps.Store.GetParam(ctx)
		out = append(out, KeyResponse{
			Key:      k,
			UUID:     a.UUID,
			ActionID: a.ActionID,
			Context:  ctx,
			HasParam: has,
			Live:     actions[ctx],
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// listParams returns GET /api/v1/params: every stored param.
func (h *Handler) listParams(w http.ResponseWriter, _ *http.Request) {
	entries := h.deps.Store.List()
	out := make([]ParamResponse, 0, len(entries))
	for _, e := range entries {
		id, err := deckctx.Decode(e.Context)
		if err != nil {
			continue
		}
		out = append(out, toParamResponse(id, e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getParam returns GET /api/v1/params/{context}: 400 for a malformed
// context, 404 when nothing is stored.
func (h *Handler) getParam(w http.ResponseWriter, r *http.Request) {
	ctx := mux.Vars(r)["context"]
	id, err := deckctx.Decode(ctx)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	e, ok := h.deps.Store.Get(ctx)
	if !ok {
		jsonErr(w, http.StatusNotFound, "no param stored for context")
		return
	}
	jsonResp(w, http.StatusOK, toParamResponse(id, e))
}

// refresh handles POST /api/v1/refresh: asks the catalog to reload, the same
// as the deck's refreshList.
func (h *Handler) refresh(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Catalog == nil {
		jsonErr(w, http.StatusServiceUnavailable, "no plugin catalog")
		return
	}
	h.deps.Catalog.Refresh()
	jsonResp(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func (h *Handler) catalog() (catalog.Set, bool) {
	if h.deps.Catalog == nil {
		return nil, false
	}
	return h.deps.Catalog.Current()
}

// liveMains returns the uuids of registered main services whose socket is
// still open. Entries is read-only, unlike LookupMain.
func (h *Handler) liveMains() map[string]bool {
	out := make(map[string]bool)
	for _, e := range h.deps.Registry.Entries() {
		if e.Kind == registry.KindMain && e.Conn.Alive() {
			out[e.Key] = true
		}
	}
	return out
}

func toParamResponse(id deckctx.Identity, e *store.Entry) ParamResponse {
	p := e.Param
	if len(p) == 0 {
		p = json.RawMessage("null")
	}
	return ParamResponse{
		Context:   e.Context,
		UUID:      id.UUID,
		Key:       id.Key,
		ActionID:  id.ActionID,
		Param:     p,
		UpdatedAt: e.UpdatedAt.UTC(),
	}
}

func sortedKeys(m map[string]store.Assignment) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
