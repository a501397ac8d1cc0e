package tlsutil

import (
	"crypto/tls"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRecheck 两次检查证书文件的最小间隔
const DefaultRecheck = 30 * time.Second

// Keypair 证书与私钥。握手时按间隔检查文件修改时间，变化后重新加载；
// 新文件无效时继续使用旧证书。
type Keypair struct {
	certFile, keyFile string
	recheck           time.Duration
	logger            *zap.Logger
	now               func() time.Time

	mu        sync.Mutex
	cert      *tls.Certificate
	stamp     [2]time.Time
	checkedAt time.Time
}

// LoadKeypair 立即加载一次，证书无效时返回错误
func LoadKeypair(certFile, keyFile string, logger *zap.Logger) (*Keypair, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kp := &Keypair{
		certFile: certFile,
		keyFile:  keyFile,
		recheck:  DefaultRecheck,
		logger:   logger.With(zap.String("component", "tls")),
		now:      time.Now,
	}
	stamp, err := kp.stat()
	if err != nil {
		return nil, err
	}
	if err := kp.load(stamp); err != nil {
		return nil, err
	}
	return kp, nil
}

// GetCertificate 实现 tls.Config.GetCertificate
func (kp *Keypair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	kp.mu.Lock()
	defer kp.mu.Unlock()

	now := kp.now()
	if now.Sub(kp.checkedAt) >= kp.recheck {
		kp.checkedAt = now
		kp.refresh()
	}
	return kp.cert, nil
}

func (kp *Keypair) refresh() {
	stamp, err := kp.stat()
	if err != nil {
		kp.logger.Warn("certificate check failed", zap.Error(err))
		return
	}
	if stamp == kp.stamp {
		return
	}
	if err := kp.load(stamp); err != nil {
		kp.logger.Warn("certificate reload failed, keeping previous", zap.Error(err))
		return
	}
	kp.logger.Info("certificate reloaded", zap.String("cert_file", kp.certFile))
}

func (kp *Keypair) stat() ([2]time.Time, error) {
	var stamp [2]time.Time
	for i, path := range []string{kp.certFile, kp.keyFile} {
		fi, err := os.Stat(path)
		if err != nil {
			return stamp, fmt.Errorf("stat %s: %w", path, err)
		}
		stamp[i] = fi.ModTime()
	}
	return stamp, nil
}

func (kp *Keypair) load(stamp [2]time.Time) error {
	cert, err := tls.LoadX509KeyPair(kp.certFile, kp.keyFile)
	if err != nil {
		return fmt.Errorf("load keypair: %w", err)
	}
	kp.cert = &cert
	kp.stamp = stamp
	return nil
}
