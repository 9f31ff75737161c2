package handler

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_active_connections",
		Help: "Number of open WebSocket connections.",
	})
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Messages routed to WebSocket clients by result.",
	}, []string{"result"}) // delivered | offline | dropped
)

// Client представляет собой одно WebSocket соединение пользователя.
// У одного пользователя может быть несколько клиентов (телефон, планшет).
type Client struct {
	UserID string
	Conn   *websocket.Conn
	send   chan []byte

	closeOnce sync.Once
}

// NewClient создает клиента с буфером исходящих сообщений размера buffer.
func NewClient(userID string, conn *websocket.Conn, buffer int) *Client {
	return &Client{UserID: userID, Conn: conn, send: make(chan []byte, buffer)}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// ConnectionManager управляет активными WebSocket соединениями.
type ConnectionManager struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	logger  zerolog.Logger
}

// NewConnectionManager создает новый менеджер соединений.
func NewConnectionManager(logger zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger.With().Str("component", "ConnectionManager").Logger(),
	}
}

// RegisterClient регистрирует нового клиента.
func (m *ConnectionManager) RegisterClient(client *Client) {
	m.mu.Lock()
	set, ok := m.clients[client.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		m.clients[client.UserID] = set
	}
	set[client] = struct{}{}
	total := len(set)
	m.mu.Unlock()

	activeConnections.Inc()
	m.logger.Info().Str("userID", client.UserID).Int("userConnections", total).Msg("Client registered")
}

// UnregisterClient удаляет клиента и закрывает его канал отправки. Повторный вызов безопасен.
func (m *ConnectionManager) UnregisterClient(client *Client) {
	m.mu.Lock()
	set, ok := m.clients[client.UserID]
	if ok {
		if _, present := set[client]; present {
			delete(set, client)
			if len(set) == 0 {
				delete(m.clients, client.UserID)
			}
			activeConnections.Dec()
		} else {
			ok = false
		}
	}
	m.mu.Unlock()

	client.closeSend()
	if ok {
		m.logger.Info().Str("userID", client.UserID).Msg("Client unregistered")
	}
}

// SendToUser ставит сообщение в очередь всем соединениям пользователя.
// Возвращает число соединений, принявших сообщение. Клиент с переполненной очередью отключается.
func (m *ConnectionManager) SendToUser(userID string, message []byte) int {
	m.mu.RLock()
	targets := make([]*Client, 0, len(m.clients[userID]))
	for c := range m.clients[userID] {
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		messagesSent.WithLabelValues("offline").Inc()
		m.logger.Debug().Str("userID", userID).Msg("User offline, message skipped")
		return 0
	}

	delivered := 0
	var slow []*Client
	m.mu.RLock()
	for _, c := range targets {
		if _, still := m.clients[userID][c]; !still {
			continue
		}
		select {
		case c.send <- message:
			delivered++
		default:
			slow = append(slow, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range slow {
		messagesSent.WithLabelValues("dropped").Inc()
		m.logger.Warn().Str("userID", userID).Msg("Send queue full, disconnecting slow client")
		m.UnregisterClient(c)
	}
	if delivered > 0 {
		messagesSent.WithLabelValues("delivered").Add(float64(delivered))
	}
	return delivered
}

// ConnectionCount возвращает число соединений пользователя.
func (m *ConnectionManager) ConnectionCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients[userID])
}

// CloseAll отключает всех клиентов при остановке сервиса.
func (m *ConnectionManager) CloseAll() {
	m.mu.RLock()
	var all []*Client
	for _, set := range m.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range all {
		m.UnregisterClient(c)
	}
}
