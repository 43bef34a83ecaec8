package transport

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/uri157/exchange-simulator/internal/broadcast"
	"github.com/uri157/exchange-simulator/internal/core"
	"github.com/uri157/exchange-simulator/internal/orders"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// controlMessage is a client -> server message on a session's WebSocket
// stream: either a bare subscribe/unsubscribe (the stream is already
// scoped to one session, so Symbols narrows within it) or an order
// placed/canceled directly over the socket instead of via REST.
type controlMessage struct {
	Action        string   `json:"action"`
	Symbols       []string `json:"symbols,omitempty"`
	Side          string   `json:"side,omitempty"`
	Type          string   `json:"type,omitempty"`
	Quantity      float64  `json:"quantity,omitempty"`
	Price         float64  `json:"price,omitempty"`
	ClientOrderID string   `json:"clientOrderId,omitempty"`
	OrderID       string   `json:"orderId,omitempty"`
}

// wsEvent is what the server pushes over the socket: a broadcast event
// envelope for market data, or an ack/error for a control message.
type wsEvent struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// wsClient is one connected subscriber to a session's broadcast stream,
// generalized from the teacher's per-connection Client: a buffered send
// channel plus a done channel, guarded pumps, ping/pong keepalive.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
}

func (c *wsClient) close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

func (c *wsClient) enqueue(msg []byte) {
	select {
	case c.send <- msg:
	default:
		// slow consumer: drop rather than block the broadcast fan-out.
	}
}

// handleWebSocket upgrades the connection and streams broadcast events for
// the session named in the path, while accepting subscribe/unsubscribe and
// order-control messages from the client.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("transport: websocket upgrade error: %v", err)
		return
	}

	client := newWSClient(conn)
	recv := s.bus.Subscribe(sessionID)

	go s.pumpBroadcast(sessionID, recv, client)
	go s.writePump(client)
	s.readPump(sessionID, client)
}

// pumpBroadcast relays broadcast.Bus events onto the client's send channel
// until the socket closes or the topic closes.
func (s *Server) pumpBroadcast(sessionID uuid.UUID, recv *broadcast.Receiver, client *wsClient) {
	defer recv.Unsubscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-client.done
		cancel()
	}()

	for {
		ev, err := recv.Recv(ctx)
		if err != nil {
			return
		}
		if ev.Closed {
			env, _ := json.Marshal(wsEvent{Type: "closed"})
			client.enqueue(env)
			client.close()
			return
		}
		if ev.Lagged > 0 {
			env, _ := json.Marshal(wsEvent{Type: "lagged", Payload: itoaSafe(ev.Lagged)})
			client.enqueue(env)
			continue
		}
		env, _ := json.Marshal(wsEvent{Type: "event", Payload: ev.Message})
		client.enqueue(env)
	}
}

func itoaSafe(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

// writePump drains the client's send channel to the socket and keeps the
// connection alive with periodic pings, mirroring the teacher's pump
// shape.
func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}

// readPump processes incoming control messages until the socket closes.
func (s *Server) readPump(sessionID uuid.UUID, client *wsClient) {
	defer client.close()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("transport: session %s read error: %v", sessionID, err)
			}
			return
		}

		var ctrl controlMessage
		if err := json.Unmarshal(message, &ctrl); err != nil {
			s.ackError(client, "invalid control message")
			continue
		}
		s.handleControl(sessionID, client, &ctrl)
	}
}

func (s *Server) ackError(client *wsClient, msg string) {
	env, _ := json.Marshal(wsEvent{Type: "error", Error: msg})
	client.enqueue(env)
}

func (s *Server) ack(client *wsClient, msgType string) {
	env, _ := json.Marshal(wsEvent{Type: msgType})
	client.enqueue(env)
}

// handleControl dispatches a parsed control message. subscribe/unsubscribe
// are acknowledged only (the socket already streams every event for the
// session; symbol-level filtering is left to the consumer since the bus
// fans out per session, not per symbol). place_order/cancel_order let a
// client trade without a round trip to the REST surface.
func (s *Server) handleControl(sessionID uuid.UUID, client *wsClient, ctrl *controlMessage) {
	ctx := context.Background()
	switch ctrl.Action {
	case "subscribe":
		s.ack(client, "subscribed")

	case "unsubscribe":
		s.ack(client, "unsubscribed")

	case "place_order":
		order, err := s.orders.PlaceOrder(ctx, orders.PlaceOrderParams{
			SessionID:     sessionID,
			Symbol:        firstOr(ctrl.Symbols, ""),
			Side:          core.OrderSide(ctrl.Side),
			Type:          core.OrderType(ctrl.Type),
			Quantity:      ctrl.Quantity,
			Price:         ctrl.Price,
			ClientOrderID: ctrl.ClientOrderID,
		})
		if err != nil {
			s.ackError(client, err.Error())
			return
		}
		payload, _ := json.Marshal(order)
		env, _ := json.Marshal(wsEvent{Type: "order_placed", Payload: string(payload)})
		client.enqueue(env)

	case "cancel_order":
		orderID, err := uuid.Parse(ctrl.OrderID)
		if err != nil {
			s.ackError(client, "invalid orderId")
			return
		}
		order, err := s.orders.CancelOrder(ctx, sessionID, orderID)
		if err != nil {
			s.ackError(client, err.Error())
			return
		}
		payload, _ := json.Marshal(order)
		env, _ := json.Marshal(wsEvent{Type: "order_canceled", Payload: string(payload)})
		client.enqueue(env)

	default:
		s.ackError(client, "unknown action")
	}
}

func firstOr(ss []string, def string) string {
	if len(ss) == 0 {
		return def
	}
	return ss[0]
}
