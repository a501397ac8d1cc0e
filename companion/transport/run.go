package transport

import (
	"context"
	"errors"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/aura/companion/session"
	"github.com/BaSui01/aura/types"
)

// Session Run 驱动的会话接口，由 *session.Session 实现。
type Session interface {
	Open(ctx context.Context, out session.Outbound) error
	Handle(ctx context.Context, ev session.Event) error
	Disconnect()
	Fail(err error)
}

// Run 在当前 goroutine 中按投递顺序读取事件并交给会话处理，直到连接关闭。
// 正常关闭或 ctx 取消返回 nil，其余读错误会把会话置为 ERROR 并返回该错误。
func Run(ctx context.Context, conn *Conn, s Session) error {
	if err := s.Open(ctx, conn); err != nil {
		_ = conn.CloseWith(websocket.StatusTryAgainLater, "session unavailable")
		return err
	}

	for {
		ev, err := conn.ReadEvent(ctx)
		if err != nil {
			if isNormalClose(ctx, err) {
				s.Disconnect()
				_ = conn.Close()
				return nil
			}
			if errors.Is(err, ErrMalformedEvent) {
				conn.logger.Warn("dropping undecodable event", zap.Error(err))
				continue
			}
			s.Fail(err)
			_ = conn.CloseWith(websocket.StatusInternalError, "read failed")
			return types.NewError(types.ErrTransport, "voice transport read failed").WithCause(err)
		}

		if err := s.Handle(ctx, ev); err != nil {
			if types.IsErrorCode(err, types.ErrSessionClosed) {
				_ = conn.CloseWith(websocket.StatusGoingAway, "session closed")
				return nil
			}
			conn.logger.Warn("event handling failed", zap.String("type", ev.Type), zap.Error(err))
		}
	}
}

func isNormalClose(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
