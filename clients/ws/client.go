// Package ws provides a WebSocket client for the taskscope gateway.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/coder/websocket"

	wsprotocol "github.com/dohr-michael/taskscope/internal/gateway/ws"
	"github.com/dohr-michael/taskscope/internal/tasks"
)

// Client is a WebSocket client for the taskscope gateway.
type Client struct {
	conn   *websocket.Conn
	reqSeq uint64
	ctx    context.Context
	cancel context.CancelFunc
}

// URL converts the gateway base URL (http://host:port) into its WS endpoint.
func URL(baseURL string) string {
	u := strings.TrimSuffix(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/ws"
}

// Dial connects to the gateway WebSocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	conn.SetReadLimit(4 << 20)

	clientCtx, cancel := context.WithCancel(ctx)

	return &Client{
		conn:   conn,
		ctx:    clientCtx,
		cancel: cancel,
	}, nil
}

// Send writes a request frame and returns its id.
func (c *Client) Send(method wsprotocol.Method, params any) (string, error) {
	seq := atomic.AddUint64(&c.reqSeq, 1)
	id := fmt.Sprintf("req-%d", seq)

	frame, err := wsprotocol.NewRequestFrame(id, method, params)
	if err != nil {
		return "", err
	}
	data, err := wsprotocol.MarshalFrame(frame)
	if err != nil {
		return "", err
	}
	return id, c.conn.Write(c.ctx, websocket.MessageText, data)
}

// Call sends a request and waits for its response, skipping event frames
// received in between. The payload is decoded into out when non-nil.
func (c *Client) Call(method wsprotocol.Method, params, out any) error {
	id, err := c.Send(method, params)
	if err != nil {
		return err
	}
	for {
		f, err := c.ReadFrame()
		if err != nil {
			return err
		}
		if f.Type != wsprotocol.FrameTypeResponse || f.ID != id {
			continue
		}
		if f.OK == nil || !*f.OK {
			return fmt.Errorf("%s: %s", method, f.Error)
		}
		if out != nil && len(f.Payload) > 0 {
			return json.Unmarshal(f.Payload, out)
		}
		return nil
	}
}

// ListTasks fetches the served task list.
func (c *Client) ListTasks() ([]tasks.Task, error) {
	var list []tasks.Task
	err := c.Call(wsprotocol.MethodListTasks, nil, &list)
	return list, err
}

// UpdateStatus changes the status of one task.
func (c *Client) UpdateStatus(id string, status tasks.TaskStatus) error {
	return c.Call(wsprotocol.MethodUpdateStatus, wsprotocol.UpdateStatusParams{ID: id, Status: string(status)}, nil)
}

// ReadFrame reads the next frame from the connection.
func (c *Client) ReadFrame() (wsprotocol.Frame, error) {
	_, data, err := c.conn.Read(c.ctx)
	if err != nil {
		return wsprotocol.Frame{}, err
	}
	return wsprotocol.UnmarshalFrame(data)
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
