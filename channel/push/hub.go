// Package push delivers notifications to clients holding a WebSocket open
// to the hub. A client connects with ?recipient=<id> and receives every
// push notification addressed to that recipient while connected.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/notifier/channel"
	"github.com/xraph/notifier/notification"
)

// Encoding selects the frame format sent to clients.
type Encoding string

const (
	// EncodingJSON sends text frames. It is the default.
	EncodingJSON Encoding = "json"
	// EncodingMsgpack sends binary frames.
	EncodingMsgpack Encoding = "msgpack"
)

// defaultWriteTimeout bounds a write when ctx has no deadline.
const defaultWriteTimeout = 5 * time.Second

// Message is the frame payload clients receive.
type Message struct {
	ID       string         `json:"id" msgpack:"id"`
	Subject  string         `json:"subject,omitempty" msgpack:"subject,omitempty"`
	Message  string         `json:"message" msgpack:"message"`
	Priority string         `json:"priority" msgpack:"priority"`
	Metadata map[string]any `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

type conn struct {
	id        string
	recipient string
	raw       net.Conn
	writeMu   sync.Mutex
}

// Hub tracks connected clients by recipient and is the push adapter.
type Hub struct {
	encoding Encoding
	logger   *slog.Logger

	mu     sync.RWMutex
	conns  map[string]map[string]*conn // recipient -> conn id -> conn
	closed bool
}

var (
	_ channel.Adapter = (*Hub)(nil)
	_ http.Handler    = (*Hub)(nil)
)

// Option configures a Hub.
type Option func(*Hub)

// WithEncoding sets the frame format.
func WithEncoding(e Encoding) Option {
	return func(h *Hub) { h.encoding = e }
}

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// NewHub creates an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		encoding: EncodingJSON,
		logger:   slog.Default(),
		conns:    make(map[string]map[string]*conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Channel implements channel.Adapter.
func (h *Hub) Channel() notification.Channel { return notification.ChannelPush }

// ServeHTTP upgrades the request to a WebSocket and registers it under the
// recipient query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	recipient := r.URL.Query().Get("recipient")
	if recipient == "" {
		http.Error(w, "recipient query parameter is required", http.StatusBadRequest)
		return
	}

	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("push: websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &conn{id: uuid.NewString(), recipient: recipient, raw: raw}
	if !h.add(c) {
		_ = raw.Close()
		return
	}
	h.logger.Debug("push: client connected",
		slog.String("recipient", recipient),
		slog.String("conn_id", c.id),
	)

	go h.readLoop(c)
}

// readLoop drains client frames until the connection closes. Clients are
// not expected to send data. Control frames are answered under the
// connection's write lock so replies never split a notification frame.
func (h *Hub) readLoop(c *conn) {
	defer h.remove(c)

	control := c.controlHandler()
	rd := &wsutil.Reader{
		Source:         c.raw,
		State:          ws.StateServerSide,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, rd); err != nil {
				return
			}
			continue
		}
		if err := rd.Discard(); err != nil {
			return
		}
	}
}

// controlHandler builds each pong or close reply in memory and writes it
// as a single locked write.
func (c *conn) controlHandler() wsutil.FrameHandlerFunc {
	return func(hdr ws.Header, r io.Reader) error {
		var reply bytes.Buffer
		err := wsutil.ControlHandler{
			Src:                 r,
			Dst:                 &reply,
			State:               ws.StateServerSide,
			DisableSrcCiphering: true,
		}.Handle(hdr)

		if reply.Len() > 0 {
			c.writeMu.Lock()
			_, werr := c.raw.Write(reply.Bytes())
			c.writeMu.Unlock()
			if err == nil {
				err = werr
			}
		}
		return err
	}
}

// Send implements channel.Adapter. The attempt is delivered when at least
// one of the recipient's connections accepted the frame.
func (h *Hub) Send(ctx context.Context, n *notification.Notification) channel.Outcome {
	targets := h.snapshot(n.Recipient)
	if len(targets) == 0 {
		return channel.Transientf("no active push connection for %q", n.Recipient)
	}

	frame, err := h.encode(Message{
		ID:       n.ID.String(),
		Subject:  n.Subject,
		Message:  n.Message,
		Priority: string(n.Priority),
		Metadata: n.Metadata,
	})
	if err != nil {
		return channel.Permanentf("encode push message: %v", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWriteTimeout)
	}

	var errs []error
	for _, c := range targets {
		if err := h.write(c, frame, deadline); err != nil {
			errs = append(errs, err)
			h.remove(c)
			continue
		}
	}
	if len(errs) == len(targets) {
		return channel.TransportOutcome(errors.Join(errs...))
	}
	return channel.Delivered()
}

// Connections returns how many clients are connected for recipient.
func (h *Hub) Connections(recipient string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[recipient])
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	all := h.conns
	h.conns = make(map[string]map[string]*conn)
	h.mu.Unlock()

	for _, byID := range all {
		for _, c := range byID {
			_ = c.raw.Close()
		}
	}
	return nil
}

func (h *Hub) write(c *conn, frame []byte, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.raw.SetWriteDeadline(deadline)
	defer c.raw.SetWriteDeadline(time.Time{}) //nolint:errcheck // best effort reset

	if h.encoding == EncodingMsgpack {
		return wsutil.WriteServerBinary(c.raw, frame)
	}
	return wsutil.WriteServerText(c.raw, frame)
}

func (h *Hub) encode(m Message) ([]byte, error) {
	if h.encoding == EncodingMsgpack {
		return msgpack.Marshal(m)
	}
	return json.Marshal(m)
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	byID, ok := h.conns[c.recipient]
	if !ok {
		byID = make(map[string]*conn)
		h.conns[c.recipient] = byID
	}
	byID[c.id] = c
	return true
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	if byID, ok := h.conns[c.recipient]; ok {
		if _, present := byID[c.id]; present {
			delete(byID, c.id)
			if len(byID) == 0 {
				delete(h.conns, c.recipient)
			}
		}
	}
	h.mu.Unlock()
	_ = c.raw.Close()
}

func (h *Hub) snapshot(recipient string) []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	byID := h.conns[recipient]
	out := make([]*conn, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	return out
}
