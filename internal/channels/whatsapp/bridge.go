package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/chatqueue/internal/bus"
	"github.com/nextlevelbuilder/chatqueue/internal/channels"
)

// InboundHandler receives user messages read from the bridge.
type InboundHandler func(ctx context.Context, in Inbound)

// BridgeSender connects to a WhatsApp bridge via WebSocket.
// The bridge (e.g. whatsapp-web.js based) handles the actual WhatsApp
// protocol; this side just sends/receives JSON messages over WS.
type BridgeSender struct {
	url       string
	onMessage InboundHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// bridgeFrame is the JSON envelope exchanged with the bridge.
// Inbound: {"type":"message","from":"...","content":"...","id":"...","from_name":"..."}
type bridgeFrame struct {
	Type     string `json:"type"`
	To       string `json:"to,omitempty"`
	From     string `json:"from,omitempty"`
	Content  string `json:"content"`
	ID       string `json:"id,omitempty"`
	FromName string `json:"from_name,omitempty"`
}

// NewBridgeSender creates a bridge client. onMessage may be nil for send-only use.
func NewBridgeSender(url string, onMessage InboundHandler) (*BridgeSender, error) {
	if url == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	return &BridgeSender{url: url, onMessage: onMessage}, nil
}

// Start connects to the bridge WebSocket and begins listening.
func (b *BridgeSender) Start(ctx context.Context) error {
	slog.Info("starting whatsapp bridge", "bridge_url", b.url)

	b.ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	if err := b.connect(); err != nil {
		// Not fatal: the listen loop keeps retrying.
		slog.Warn("initial whatsapp bridge connection failed, will retry", "error", err)
	}

	go b.listenLoop()
	return nil
}

// Stop closes the connection and waits for the listen loop to exit.
func (b *BridgeSender) Stop() error {
	slog.Info("stopping whatsapp bridge")

	if b.cancel != nil {
		b.cancel()
	}

	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	b.connected = false
	b.mu.Unlock()

	if b.done != nil {
		<-b.done
	}
	return nil
}

// Connected reports whether the WebSocket is currently up.
func (b *BridgeSender) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Send delivers an outbound message to the bridge.
func (b *BridgeSender) Send(_ context.Context, recipient, text string) error {
	data, err := json.Marshal(bridgeFrame{Type: "message", To: recipient, Content: text})
	if err != nil {
		return fmt.Errorf("marshal whatsapp message: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return fmt.Errorf("whatsapp bridge: %w", channels.ErrNotConnected)
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send whatsapp message: %w", err)
	}
	return nil
}

// connect establishes the WebSocket connection to the bridge.
func (b *BridgeSender) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(b.ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", b.url, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.connected = true
	b.mu.Unlock()

	slog.Info("whatsapp bridge connected", "url", b.url)
	return nil
}

// listenLoop reads messages from the bridge with automatic reconnection.
func (b *BridgeSender) listenLoop() {
	defer close(b.done)
	backoff := time.Second

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()

		if conn == nil {
			slog.Info("attempting whatsapp bridge reconnect", "backoff", backoff)

			select {
			case <-b.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := b.connect(); err != nil {
				slog.Warn("whatsapp bridge reconnect failed", "error", err)
				backoff = min(backoff*2, 30*time.Second)
				continue
			}

			backoff = time.Second // reset on success
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			slog.Warn("whatsapp read error, will reconnect", "error", err)

			b.mu.Lock()
			if b.conn == conn {
				_ = b.conn.Close()
				b.conn = nil
				b.connected = false
			}
			b.mu.Unlock()
			continue
		}

		var frame bridgeFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			slog.Warn("invalid whatsapp bridge frame", "error", err)
			continue
		}
		if frame.Type == "message" {
			b.handleIncoming(frame)
		}
	}
}

func (b *BridgeSender) handleIncoming(f bridgeFrame) {
	if b.onMessage == nil || f.From == "" || f.Content == "" {
		return
	}

	md := map[string]string{bus.MetaType: "text", bus.MetaFromName: "Unknown"}
	if f.ID != "" {
		md[bus.MetaMessageID] = f.ID
	}
	if f.FromName != "" {
		md[bus.MetaFromName] = f.FromName
	}

	slog.Debug("whatsapp bridge message received",
		"sender_id", f.From,
		"preview", channels.Truncate(f.Content, 50),
	)
	b.onMessage(b.ctx, Inbound{Message: f.Content, Sender: f.From, Metadata: md})
}
