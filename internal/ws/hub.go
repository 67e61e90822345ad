package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"roomchat/internal/metrics"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub 管理房间级别的子 Hub，实现延迟创建与并发安全。
// nil 的 *Hub 可以安全调用 Publish 与 Online，此时推送被关闭。
type Hub struct {
	mu       sync.RWMutex
	rooms    map[uint]*RoomHub
	upgrader websocket.Upgrader
}

// Option 定制 Hub。
type Option func(*Hub)

// WithCheckOrigin 设置握手时的来源检查；不设置时 gorilla 只接受同源请求。
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms: make(map[uint]*RoomHub),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// join 把客户端登记到房间，房间不存在或已退出时新建一个。
// pending 在 h.mu 下递增，房间退出前在同一把锁下检查，避免登记到已退出的房间。
func (h *Hub) join(roomID uint, c *Client) *RoomHub {
	h.mu.Lock()
	room := h.rooms[roomID]
	if room == nil {
		room = newRoomHub(h, roomID)
		h.rooms[roomID] = room
		go room.run()
	}
	room.pending++
	h.mu.Unlock()

	c.room = room
	room.register <- c
	return room
}

// retire 在房间空闲且没有待登记客户端时把它从表中移除。
func (h *Hub) retire(rh *RoomHub) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rh.pending > 0 {
		return false
	}
	if h.rooms[rh.roomID] == rh {
		delete(h.rooms, rh.roomID)
	}
	return true
}

func (h *Hub) roomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

func (h *Hub) Online(roomID uint) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

// Publish 把事件序列化后交给房间广播；没有订阅者的房间直接跳过。
func (h *Hub) Publish(roomID uint, v any) {
	if h == nil {
		return
	}
	h.mu.RLock()
	room := h.rooms[roomID]
	h.mu.RUnlock()
	if room == nil || room.Online() == 0 {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Uint("room_id", roomID).Msg("ws marshal")
		return
	}
	select {
	case room.broadcast <- b:
	default:
		metrics.BroadcastDropped.Inc()
		log.Warn().Uint("room_id", roomID).Msg("ws broadcast queue full")
	}
}

// RoomHub 由单个 goroutine 驱动；最后一个客户端离开后 goroutine 退出。
type RoomHub struct {
	hub        *Hub
	roomID     uint
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	online     int32
	pending    int // 受 hub.mu 保护
}

func newRoomHub(hub *Hub, roomID uint) *RoomHub {
	return &RoomHub{
		hub:        hub,
		roomID:     roomID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

func (rh *RoomHub) run() {
	defer close(rh.done)
	for {
		select {
		case c := <-rh.register:
			rh.hub.mu.Lock()
			rh.pending--
			rh.hub.mu.Unlock()
			rh.clients[c] = true
			metrics.WsConnections.Inc()
			rh.syncOnline()
		case c := <-rh.unregister:
			rh.drop(c)
		case msg := <-rh.broadcast:
			for c := range rh.clients {
				select {
				case c.send <- msg:
				default:
					// 慢客户端直接断开，不阻塞整个房间。
					rh.drop(c)
				}
			}
		}
		if len(rh.clients) == 0 && rh.hub.retire(rh) {
			log.Debug().Uint("room_id", rh.roomID).Msg("ws room idle")
			return
		}
	}
}

// leave 在房间已退出时直接返回，不会阻塞。
func (rh *RoomHub) leave(c *Client) {
	select {
	case rh.unregister <- c:
	case <-rh.done:
	}
}

func (rh *RoomHub) drop(c *Client) {
	if _, ok := rh.clients[c]; !ok {
		return
	}
	delete(rh.clients, c)
	close(c.send)
	metrics.WsConnections.Dec()
	rh.syncOnline()
}

func (rh *RoomHub) syncOnline() {
	atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
}

// Online 返回房间当前订阅者数量。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
