package main

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/aura/companion/session"
	"github.com/BaSui01/aura/companion/transport"
	"github.com/BaSui01/aura/config"
	"github.com/BaSui01/aura/types"
)

// =============================================================================
// 🎙️ 上游语音连接
// =============================================================================

const (
	voiceMinBackoff = time.Second
	voiceMaxBackoff = 30 * time.Second
)

// voiceSession 上游连接驱动的会话，由 *session.Session 实现
type voiceSession interface {
	transport.Session
	Begin() error
}

// voiceLink 主动连接配置的语音服务，断开后指数退避重连。
// 与 /ws/session 中继共用同一会话，同一时刻只有一条连接能 Begin 成功。
type voiceLink struct {
	cfg      config.VoiceConfig
	session  voiceSession
	recorder interface{ RecordConnection(delta int) }
	logger   *zap.Logger

	dial func(ctx context.Context, url string, header http.Header, logger *zap.Logger) (*transport.Conn, error)
	run  func(ctx context.Context, conn *transport.Conn, s transport.Session) error
}

func newVoiceLink(cfg config.VoiceConfig, s voiceSession, recorder interface{ RecordConnection(delta int) }, logger *zap.Logger) *voiceLink {
	v := &voiceLink{
		cfg:     cfg,
		session: s,
		logger:  logger.With(zap.String("component", "voice_link")),
		dial:    transport.Dial,
		run:     transport.Run,
	}
	if !types.IsNil(recorder) {
		v.recorder = recorder
	}
	return v
}

// endpoint 在配置的地址上附加 config_id
func (v *voiceLink) endpoint() (string, error) {
	u, err := url.Parse(v.cfg.URL)
	if err != nil {
		return "", types.NewError(types.ErrInvalidRequest, "invalid voice url").WithCause(err)
	}
	if v.cfg.ConfigID != "" {
		q := u.Query()
		q.Set("config_id", v.cfg.ConfigID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (v *voiceLink) header() http.Header {
	h := http.Header{}
	if v.cfg.APIKey != "" {
		h.Set("X-Hume-Api-Key", v.cfg.APIKey)
	}
	return h
}

// Run 阻塞直到 ctx 取消
func (v *voiceLink) Run(ctx context.Context) {
	endpoint, err := v.endpoint()
	if err != nil {
		v.logger.Error("voice link disabled", zap.Error(err))
		return
	}

	backoff := voiceMinBackoff
	for ctx.Err() == nil {
		connected, err := v.connectOnce(ctx, endpoint)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = voiceMinBackoff
		}
		if err != nil {
			v.logger.Warn("voice connection ended", zap.Error(err), zap.Duration("retry_in", backoff))
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if !connected {
			backoff = min(backoff*2, voiceMaxBackoff)
		}
	}
}

// connectOnce 建立一次连接并运行到断开，返回是否成功建连
func (v *voiceLink) connectOnce(ctx context.Context, endpoint string) (bool, error) {
	if err := v.session.Begin(); err != nil {
		return false, err
	}

	dialCtx := ctx
	if v.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, v.cfg.DialTimeout)
		defer cancel()
	}
	conn, err := v.dial(dialCtx, endpoint, v.header(), v.logger)
	if err != nil {
		v.session.Fail(err)
		return false, err
	}

	v.logger.Info("voice connection established")
	if v.recorder != nil {
		v.recorder.RecordConnection(1)
		defer v.recorder.RecordConnection(-1)
	}
	return true, v.run(ctx, conn, v.session)
}

var _ voiceSession = (*session.Session)(nil)
