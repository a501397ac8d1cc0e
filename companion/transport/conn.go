// Package transport 把 websocket 连接适配为会话的入站事件流和出站命令通道。
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/aura/companion/session"
	"github.com/BaSui01/aura/internal/tlsutil"
)

// 出站消息类型。
const (
	TypeToolResponse    = "tool_response"
	TypeSessionSettings = "session_settings"
)

// ToolResponse 工具执行结果。
type ToolResponse struct {
	Type       string `json:"type"`
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

// SessionSettings 会话配置，目前只携带系统指令。
type SessionSettings struct {
	Type         string `json:"type"`
	SystemPrompt string `json:"system_prompt"`
}

var (
	// ErrClosed 连接已关闭。
	ErrClosed = errors.New("connection closed")
	// ErrMalformedEvent 单条消息无法解码，连接本身仍可用。
	ErrMalformedEvent = errors.New("malformed event")
)

// Conn websocket 连接适配器。写操作通过 mutex 保护，因为 websocket 不支持并发写。
type Conn struct {
	conn   *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewConn 从已建立的 websocket 连接创建适配器。
func NewConn(conn *websocket.Conn, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{
		conn:   conn,
		logger: logger.With(zap.String("component", "voice_transport")),
	}
}

// Dial 连接上游语音服务。握手走 HTTP/1.1 专用客户端，wss 使用 TLS 1.2+。
func Dial(ctx context.Context, url string, header http.Header, logger *zap.Logger) (*Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: tlsutil.WebSocketClient(),
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(readLimit)
	return NewConn(conn, logger), nil
}

// Accept 把 HTTP 请求升级为 websocket。
func Accept(w http.ResponseWriter, r *http.Request, originPatterns []string, logger *zap.Logger) (*Conn, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: originPatterns})
	if err != nil {
		return nil, fmt.Errorf("websocket accept: %w", err)
	}
	conn.SetReadLimit(readLimit)
	return NewConn(conn, logger), nil
}

// readLimit 单条消息上限，音频输出事件可能较大。
const readLimit = 4 << 20

// ReadEvent 读取并解码一条事件。
func (c *Conn) ReadEvent(ctx context.Context) (session.Event, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return session.Event{}, fmt.Errorf("websocket read: %w", err)
	}
	ev, err := session.ParseEvent(data)
	if err != nil {
		return session.Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return ev, nil
}

// SendToolResponse 发送工具响应。
func (c *Conn) SendToolResponse(ctx context.Context, callID, content string) error {
	return c.write(ctx, ToolResponse{Type: TypeToolResponse, ToolCallID: callID, Content: content})
}

// SendSessionSettings 发送系统指令。
func (c *Conn) SendSessionSettings(ctx context.Context, systemPrompt string) error {
	return c.write(ctx, SessionSettings{Type: TypeSessionSettings, SystemPrompt: systemPrompt})
}

func (c *Conn) write(ctx context.Context, msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close 正常关闭连接。
func (c *Conn) Close() error {
	return c.CloseWith(websocket.StatusNormalClosure, "closing")
}

// CloseWith 以指定状态码关闭连接。
func (c *Conn) CloseWith(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close(code, reason)
}
