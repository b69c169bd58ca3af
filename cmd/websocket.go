package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"esimstore/internal/services"
)

/********** тайминги **********/
const (
	readLimit          = 1 << 20           // 1 MB
	readDeadline       = 120 * time.Second // дедлайн чтения (продлевается pong'ом)
	writeDeadline      = 5 * time.Second   // дедлайн записи
	pingInterval       = 15 * time.Second  // период пингов
	firstHelloDeadline = 30 * time.Second  // время на первый кадр {token}
)

/*****************************/

type orderEvent struct {
	userID string
	ev     services.OrderEvent
}

type Client struct {
	ID     string
	Socket *websocket.Conn
}

type unreg struct {
	userID string
	conn   *websocket.Conn
}

// WebSocketManager streams purchase progress to the buyer's mini app. One
// socket per user; a new connection replaces the old one.
type WebSocketManager struct {
	clients    map[string]*websocket.Conn
	events     chan orderEvent
	register   chan Client
	unregister chan unreg
}

func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[string]*websocket.Conn),
		events:     make(chan orderEvent, 64),
		register:   make(chan Client),
		unregister: make(chan unreg),
	}
}

// Publish implements services.EventPublisher. Events are advisory: when the
// buffer is full or nobody listens they are dropped, never blocking a
// purchase.
func (ws *WebSocketManager) Publish(userID string, ev services.OrderEvent) {
	select {
	case ws.events <- orderEvent{userID: userID, ev: ev}:
	default:
	}
}

// Все операции с clients — только здесь.
func (ws *WebSocketManager) Run() {
	for {
		select {
		case client := <-ws.register:
			// если уже есть сокет у этого пользователя — закрываем старый
			if old, ok := ws.clients[client.ID]; ok && old != nil && old != client.Socket {
				_ = old.Close()
			}
			ws.clients[client.ID] = client.Socket
			log.Printf("WS register user=%s", client.ID)

		case u := <-ws.unregister:
			// удаляем только если совпадает текущий сокет
			if cur, ok := ws.clients[u.userID]; ok && cur == u.conn {
				_ = cur.Close()
				delete(ws.clients, u.userID)
				log.Printf("WS unregister user=%s", u.userID)
			}

		case e := <-ws.events:
			conn, ok := ws.clients[e.userID]
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(e.ev); err != nil {
				log.Printf("event send error to=%s: %v", e.userID, err)
				_ = conn.Close()
				delete(ws.clients, e.userID)
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true }, // при необходимости — белый список Origin
	ReadBufferSize:    1024,
	WriteBufferSize:   1024,
	EnableCompression: true,
}

// Первым фреймом клиент обязан прислать { "token": "<access token>" }.
func (app *application) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("WebSocket upgrade error:", err)
		return
	}

	// настройка чтения и pong
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(firstHelloDeadline)) // ждём hello
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	// читаем hello
	var hello struct {
		Token string `json:"token"`
	}
	if err := conn.ReadJSON(&hello); err != nil || hello.Token == "" {
		log.Println("invalid hello payload:", err)
		_ = writeClose(conn, websocket.ClosePolicyViolation, "hello required")
		_ = conn.Close()
		return
	}

	userID, err := app.tokens.Parse(hello.Token)
	if err != nil {
		log.Println("hello token rejected:", err)
		_ = writeClose(conn, websocket.ClosePolicyViolation, "invalid token")
		_ = conn.Close()
		return
	}
	conn.SetReadDeadline(time.Now().Add(readDeadline)) // продлеваем после hello

	client := Client{ID: userID, Socket: conn}
	app.wsManager.register <- client

	// пинг-цикл
	go pingLoop(app.wsManager, conn, userID)

	// чтение: клиент ничего не шлёт, ждём только pong и закрытие
	go drainWebSocket(conn, userID, app.wsManager)
}

func pingLoop(ws *WebSocketManager, conn *websocket.Conn, uid string) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for range t.C {
		_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			_ = writeClose(conn, websocket.CloseGoingAway, "ping error")
			ws.unregister <- unreg{userID: uid, conn: conn}
			return
		}
	}
}

func drainWebSocket(conn *websocket.Conn, userID string, wsManager *WebSocketManager) {
	defer func() {
		wsManager.unregister <- unreg{userID: userID, conn: conn}
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// аккуратная отправка close-фрейма
func writeClose(conn *websocket.Conn, code int, reason string) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeDeadline),
	)
}
