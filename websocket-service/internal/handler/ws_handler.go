package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Время, разрешенное для чтения следующего pong сообщения от клиента.
	pongWait = 60 * time.Second
	// Отправлять пинги клиенту с этим периодом. Должно быть меньше pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Клиент ничего не присылает, кроме control-фреймов.
	maxMessageSize = 512
)

// WebSocketHandler обрабатывает запросы на установку WebSocket соединения.
// Аутентификация выполняется до него (middleware кладет user_id в echo.Context).
type WebSocketHandler struct {
	manager    *ConnectionManager
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     zerolog.Logger
}

// NewWebSocketHandler создает новый обработчик WebSocket.
// allowedOrigins со значением "*" разрешает любой Origin.
func NewWebSocketHandler(manager *ConnectionManager, allowedOrigins []string, sendBuffer int, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		sendBuffer: sendBuffer,
		logger:     logger.With().Str("component", "WebSocketHandler").Logger(),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Мобильные клиенты Origin не присылают.
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Handle обновляет соединение до WebSocket и регистрирует клиента.
func (h *WebSocketHandler) Handle(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	if userID == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrader уже записал ответ клиенту.
		h.logger.Warn().Err(err).Str("userID", userID).Msg("Failed to upgrade connection")
		return nil
	}

	client := NewClient(userID, conn, h.sendBuffer)
	h.manager.RegisterClient(client)

	log := h.logger.With().Str("userID", userID).Logger()
	go client.writePump(log)
	go client.readPump(h.manager, log)
	return nil
}

// readPump читает control-фреймы и снимает клиента с учета при разрыве.
func (c *Client) readPump(manager *ConnectionManager, logger zerolog.Logger) {
	defer func() {
		manager.UnregisterClient(c)
		_ = c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			} else {
				logger.Debug().Msg("WebSocket connection closed")
			}
			return
		}
		logger.Debug().Int("size", len(message)).Msg("Client message ignored")
	}
}

// writePump пишет сообщения из канала send, по одному JSON на фрейм.
func (c *Client) writePump(logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn().Err(err).Msg("Failed to write message")
				return
			}
		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}
