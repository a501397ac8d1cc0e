package dispatch

import (
	"context"
	"sync"

	"github.com/BaSui01/aura/types"
)

type job struct {
	ctx   context.Context
	call  ToolCall
	reply chan Response
}

// Sequencer 单写者队列：并发提交的工具调用按提交顺序逐个执行。
type Sequencer struct {
	handler Handler
	jobs    chan job
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewSequencer 启动一个执行协程。buffer<=0 时使用无缓冲队列。
func NewSequencer(h Handler, buffer int) *Sequencer {
	if buffer < 0 {
		buffer = 0
	}
	s := &Sequencer{
		handler: h,
		jobs:    make(chan job, buffer),
		quit:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *Sequencer) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case j := <-s.jobs:
			j.reply <- s.handler.Dispatch(j.ctx, j.call)
		}
	}
}

// Submit 提交调用并等待结果。
func (s *Sequencer) Submit(ctx context.Context, call ToolCall) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	j := job{ctx: ctx, call: call, reply: make(chan Response, 1)}
	select {
	case <-s.quit:
		return Response{}, types.NewError(types.ErrSessionClosed, "dispatcher sequencer is closed")
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case s.jobs <- j:
	}

	select {
	case resp := <-j.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-s.quit:
		// 执行协程退出后不会再写 reply
		s.wg.Wait()
		select {
		case resp := <-j.reply:
			return resp, nil
		default:
			return Response{}, types.NewError(types.ErrSessionClosed, "dispatcher sequencer is closed")
		}
	}
}

// Dispatch 让 Sequencer 自身满足 Handler。关闭后返回 Handled=false。
func (s *Sequencer) Dispatch(ctx context.Context, call ToolCall) Response {
	resp, err := s.Submit(ctx, call)
	if err != nil {
		return Response{Handled: false, Tool: call.Name, CallID: call.CallID}
	}
	return resp
}

// Close 停止执行协程。可重复调用。
func (s *Sequencer) Close() {
	s.once.Do(func() { close(s.quit) })
	s.wg.Wait()
}
