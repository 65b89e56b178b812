package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/aifitworld/aifitworld-api/internal/domain/ledger"
	"github.com/aifitworld/aifitworld-api/internal/middleware"
	"github.com/aifitworld/aifitworld-api/internal/pkg/errorhandler"
	"github.com/aifitworld/aifitworld-api/internal/pkg/logger"
	"github.com/aifitworld/aifitworld-api/internal/pkg/response"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// BalanceReader supplies the snapshot sent when a stream opens.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Handler serves the balance stream.
type Handler struct {
	hub      *Hub
	balances BalanceReader
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, balances BalanceReader, allowedOrigins []string) *Handler {
	return &Handler{
		hub:      hub,
		balances: balances,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 || origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// Stream handles GET /tokens/stream
// @Summary Live token balance
// @Description WebSocket. Sends a snapshot, then one message per balance change.
// @Tags Tokens
// @Param token query string false "Access token when headers cannot be set"
// @Router /tokens/stream [get]
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == uuid.Nil {
		response.Unauthorized(w, "Authentication required")
		return
	}

	// Register first so an event committed while the snapshot is read is
	// held rather than lost.
	c := newClient(userID)
	h.hub.add(c)

	balance, err := h.balances.GetBalance(ctx, userID)
	if err != nil {
		h.hub.remove(c)
		ledger.WriteError(w, r, err)
		return
	}
	snapshot, err := json.Marshal(Message{
		Type:         TypeSnapshot,
		BalanceEvent: ledger.BalanceEvent{UserID: userID, Balance: balance, At: time.Now().UTC()},
	})
	if err != nil {
		h.hub.remove(c)
		errorhandler.Internal(ctx, w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.remove(c)
		logger.FromContext(ctx).Warn().Err(err).Msg("balance stream upgrade failed")
		return
	}
	c.Conn = conn
	h.hub.open(c, snapshot)

	go h.reader(c)
	go h.writer(c)
}

// reader only watches for close and pongs; clients have nothing to say.
func (h *Handler) reader(c *Client) {
	defer func() {
		h.hub.remove(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writer(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Routes mounts the stream. Browsers cannot set headers on a WebSocket
// handshake, so the access token may also come as ?token=.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if token := r.URL.Query().Get("token"); token != "" && r.Header.Get("Authorization") == "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		authMiddleware(http.HandlerFunc(h.Stream)).ServeHTTP(w, r)
	})
	return r
}
