package link

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ulanzi/decksim/agent/internal/config"
	"github.com/ulanzi/decksim/pkg/deckctx"
	"github.com/ulanzi/decksim/pkg/protocol"
)

const (
	backoffMultiplier = 2.0
	writeTimeout      = 10 * time.Second
	dialTimeout       = 10 * time.Second
)

// Event is one message received from the simulator.
type Event struct {
	Cmd string
	deckctx.Identity
	Param  json.RawMessage
	Active *bool
	// Ack is set when the message is the simulator echoing one of ours
	// back with "code": 0.
	Ack bool
	Raw []byte
}

// dialFunc opens a WebSocket to url. Abstracted so tests can count and fail
// dial attempts.
type dialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

// Link keeps one plugin connection to the simulator alive. It announces the
// configured identity, reports every inbound message to the observer and,
// when enabled, answers run with a state update.
type Link struct {
	cfg       config.ProbeConfig
	dialFn    dialFunc
	observe   func(Event)
	answerRun atomic.Bool

	mu      sync.Mutex
	pressed map[string]int
}

// New creates a Link for cfg. observe may be nil.
func New(cfg config.ProbeConfig, observe func(Event)) *Link {
	l := &Link{
		cfg:     cfg,
		dialFn:  defaultDial,
		observe: observe,
		pressed: make(map[string]int),
	}
	l.answerRun.Store(cfg.AnswerRun)
	return l
}

// SetAnswerRun toggles run answering on a live Link.
func (l *Link) SetAnswerRun(on bool) { l.answerRun.Store(on) }

// Run connects and reconnects with exponential backoff until ctx is
// cancelled.
func (l *Link) Run(ctx context.Context) {
	bo := newBackoff(l.cfg.BackoffInitial, l.cfg.BackoffMax)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := l.dialFn(ctx, l.cfg.ServerURL)
		if err != nil {
			wait := bo.next()
			slog.Error("link: dial failed, will retry",
				"url", l.cfg.ServerURL,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("link: connected", "url", l.cfg.ServerURL, "uuid", l.cfg.PluginUUID)
		bo.reset()

		err = l.session(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("link: connection lost, will reconnect",
			"url", l.cfg.ServerURL,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// session announces the identity and then reads until the connection fails
// or ctx is cancelled. All writes happen on this goroutine.
func (l *Link) session(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	id := l.cfg.Identity()
	hello := map[string]string{"cmd": protocol.CmdConnected, "uuid": id.UUID}
	if id.Key != "" {
		hello["key"] = id.Key
		hello["actionid"] = id.ActionID
	}
	if err := write(conn, hello); err != nil {
		return fmt.Errorf("announce: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		ev, err := parseEvent(data)
		if err != nil {
			slog.Warn("link: unreadable message", "err", err)
			continue
		}
		if l.observe != nil {
			l.observe(ev)
		}
		if ev.Cmd == protocol.CmdRun && !ev.Ack && l.answerRun.Load() {
			if err := write(conn, l.stateFor(ev.Identity)); err != nil {
				return fmt.Errorf("state: %w", err)
			}
		}
	}
}

// stateFor builds the state reply to a run on id. Each press flips the key
// between state 0 and 1 of its action's state list.
func (l *Link) stateFor(id deckctx.Identity) stateMessage {
	l.mu.Lock()
	n := l.pressed[id.String()] + 1
	l.pressed[id.String()] = n
	l.mu.Unlock()

	entry := stateEntry{UUID: id.UUID, Key: id.Key, ActionID: id.ActionID, Type: 0, State: n % 2}
	return stateMessage{
		Cmd:      protocol.CmdState,
		UUID:     id.UUID,
		Key:      id.Key,
		ActionID: id.ActionID,
		Param:    stateParam{StateList: []stateEntry{entry}},
	}
}

type stateMessage struct {
	Cmd      string     `json:"cmd"`
	UUID     string     `json:"uuid"`
	Key      string     `json:"key"`
	ActionID string     `json:"actionid"`
	Param    stateParam `json:"param"`
}

type stateParam struct {
	StateList []stateEntry `json:"statelist"`
}

type stateEntry struct {
	UUID     string `json:"uuid"`
	Key      string `json:"key"`
	ActionID string `json:"actionid"`
	Type     int    `json:"type"`
	State    int    `json:"state"`
}

func parseEvent(data []byte) (Event, error) {
	var w struct {
		Cmd    string          `json:"cmd"`
		Code   *int            `json:"code"`
		Param  json.RawMessage `json:"param"`
		Active *bool           `json:"active"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, err
	}
	if w.Cmd == "" {
		return Event{}, fmt.Errorf("missing cmd")
	}
	id, err := protocol.DecodeIdentity(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Cmd: w.Cmd, Identity: id, Param: w.Param, Active: w.Active, Ack: w.Code != nil, Raw: data}, nil
}

func write(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func defaultDial(ctx context.Context, url string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// backoff implements truncated exponential backoff with ±25% jitter.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, ceiling time.Duration) *backoff {
	return &backoff{initial: initial, max: ceiling, current: initial}
}

func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}
