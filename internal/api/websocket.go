// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Corphon/GeoTriggerMCP/internal/utils"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 在生产环境中应该进行更严格的检查
		return true
	},
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 50 * time.Second
	wsSendBuffer   = 64
)

// wsClient 表示一个连接到体验的设备
type wsClient struct {
	conn         *websocket.Conn
	experienceID string
	deviceID     string
	send         chan []byte
	closed       int32
	connectedAt  time.Time
}

// close 安全关闭客户端连接，重复调用无害
func (client *wsClient) close() {
	if atomic.CompareAndSwapInt32(&client.closed, 0, 1) {
		client.conn.Close()
	}
}

// isClosed 检查连接是否已关闭
func (client *wsClient) isClosed() bool {
	return atomic.LoadInt32(&client.closed) == 1
}

// sendMessage 把消息放入发送队列，队列满时丢弃而不是阻塞
func (client *wsClient) sendMessage(message map[string]interface{}) {
	if client.isClosed() {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	select {
	case client.send <- data:
	default:
		utils.GetLogger().Warnf("⚠️ 设备 %s 消息队列已满，消息被丢弃", client.deviceID)
	}
}

// PresenceHub 管理各体验的设备连接。
// 在线设备数就是 proximity 触发器的输入：计数包含本机，
// 每次连接或断开都会向上层上报新的计数。
type PresenceHub struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]bool // experienceID -> clients

	// onCountChange 在某个体验的设备数变化时回调（锁外调用）
	onCountChange func(experienceID string, count int)

	metrics *utils.TriggerMetrics
}

// NewPresenceHub 创建设备在线中继
func NewPresenceHub(onCountChange func(experienceID string, count int)) *PresenceHub {
	return &PresenceHub{
		clients:       make(map[string]map[*wsClient]bool),
		onCountChange: onCountChange,
		metrics:       utils.NewTriggerMetrics(),
	}
}

// DeviceCount 返回体验当前的在线设备数
func (h *PresenceHub) DeviceCount(experienceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients[experienceID])
}

// Broadcast 向体验的全部在线设备推送一条消息
func (h *PresenceHub) Broadcast(experienceID string, message map[string]interface{}) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients[experienceID]))
	for client := range h.clients[experienceID] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.sendMessage(message)
	}
}

// Status 返回各体验的连接统计（调试用）
func (h *PresenceHub) Status() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	perExperience := make(map[string]int, len(h.clients))
	total := 0
	for experienceID, clients := range h.clients {
		perExperience[experienceID] = len(clients)
		total += len(clients)
	}
	return map[string]interface{}{
		"total_connections": total,
		"experiences":       perExperience,
	}
}

// HandleConnection 升级HTTP连接并接入指定体验
func (h *PresenceHub) HandleConnection(c *gin.Context, experienceID string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		utils.GetLogger().Warnf("WebSocket 升级失败: %v", err)
		return
	}

	deviceID := c.Query("device_id")
	if deviceID == "" {
		deviceID = c.ClientIP()
	}

	client := &wsClient{
		conn:         conn,
		experienceID: experienceID,
		deviceID:     deviceID,
		send:         make(chan []byte, wsSendBuffer),
		connectedAt:  time.Now(),
	}

	h.register(client)

	go client.writePump()
	go func() {
		client.readPump()
		h.unregister(client)
	}()
}

// register 接入客户端并上报新的设备数
func (h *PresenceHub) register(client *wsClient) {
	h.mu.Lock()
	if h.clients[client.experienceID] == nil {
		h.clients[client.experienceID] = make(map[*wsClient]bool)
	}
	h.clients[client.experienceID][client] = true
	count := len(h.clients[client.experienceID])
	h.mu.Unlock()

	utils.GetLogger().Infof("✅ 设备已接入体验 %s (device=%s, 在线=%d)",
		client.experienceID, client.deviceID, count)

	h.announceCount(client.experienceID, count)
}

// unregister 移除客户端并上报新的设备数
func (h *PresenceHub) unregister(client *wsClient) {
	h.mu.Lock()
	clients, exists := h.clients[client.experienceID]
	if exists {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.experienceID)
		}
	}
	count := len(h.clients[client.experienceID])
	h.mu.Unlock()

	// 只关底层连接，不关 send 通道：并发中的 Broadcast 可能刚通过
	// isClosed 检查，向已关闭的通道写入会直接 panic。writePump
	// 靠连接关闭后的写错误退出，通道随客户端对象一起被回收。
	client.close()

	utils.GetLogger().Infof("设备已断开体验 %s (device=%s, 在线=%d)",
		client.experienceID, client.deviceID, count)

	h.announceCount(client.experienceID, count)
}

// announceCount 推送在线数变化并驱动 proximity 评估
func (h *PresenceHub) announceCount(experienceID string, count int) {
	h.metrics.SetConnectedDevices(experienceID, count)

	h.Broadcast(experienceID, map[string]interface{}{
		"type":         "presence",
		"device_count": count,
		"timestamp":    time.Now().Format(time.RFC3339),
	})

	if h.onCountChange != nil {
		h.onCountChange(experienceID, count)
	}
}

// readPump 读取循环：只负责维持连接活性，
// 触发信号全部走REST端点，不从这条连接解析业务消息
func (client *wsClient) readPump() {
	defer client.close()

	client.conn.SetReadLimit(4096)
	client.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
		client.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	}
}

// writePump 写入循环：发送队列消息并定期ping
func (client *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.close()
	}()

	// send 通道从不关闭，循环只靠连接上的写错误退出
	for {
		select {
		case data := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
