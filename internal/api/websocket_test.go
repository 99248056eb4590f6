// internal/api/websocket_test.go
package api

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newHubClient(experienceID, deviceID string) *wsClient {
	return &wsClient{
		experienceID: experienceID,
		deviceID:     deviceID,
		send:         make(chan []byte, wsSendBuffer),
	}
}

func TestUnregister_LeavesSendChannelOpen(t *testing.T) {
	h := NewPresenceHub(nil)

	client := newHubClient("e1", "d1")
	h.register(client)
	assert.Equal(t, 1, h.DeviceCount("e1"))

	// 底层连接已在读取循环退出时关闭，这里只走注销路径
	atomic.StoreInt32(&client.closed, 1)
	h.unregister(client)
	assert.Equal(t, 0, h.DeviceCount("e1"))

	// 并发广播可能仍持有注销前取到的客户端快照，
	// 发送通道必须保持打开，向它写入不能 panic
	assert.NotPanics(t, func() {
		select {
		case client.send <- []byte(`{}`):
		default:
		}
	})
}

func TestBroadcast_SkipsUnregisteredClient(t *testing.T) {
	var countChanges []int
	h := NewPresenceHub(func(_ string, count int) {
		countChanges = append(countChanges, count)
	})

	stays := newHubClient("e1", "d1")
	leaves := newHubClient("e1", "d2")
	h.register(stays)
	h.register(leaves)
	assert.Equal(t, []int{1, 2}, countChanges)

	atomic.StoreInt32(&leaves.closed, 1)
	h.unregister(leaves)
	assert.Equal(t, []int{1, 2, 1}, countChanges)

	before := len(leaves.send)
	h.Broadcast("e1", map[string]interface{}{"type": "status"})

	// 留下的客户端收到消息，离开的不再收到
	assert.Equal(t, before, len(leaves.send))
	assert.NotEmpty(t, stays.send)
}
