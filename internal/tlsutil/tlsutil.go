package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// aeadSuites TLS 1.2 下允许的套件；TLS 1.3 套件不可配置
var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// hardened TLS 1.2+，只用 AEAD 套件。protos 为 ALPN 列表。
func hardened(protos ...string) *tls.Config {
	return &tls.Config{
		MinVersion:       tls.VersionTLS12,
		CipherSuites:     append([]uint16(nil), aeadSuites...),
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
		NextProtos:       protos,
	}
}

// ServerConfig API 端口的 TLS 配置，证书由 kp 提供并随文件变化更新。
// 只声明 http/1.1：websocket 升级不能走 h2。
func ServerConfig(kp *Keypair) *tls.Config {
	cfg := hardened("http/1.1")
	cfg.GetCertificate = kp.GetCertificate
	return cfg
}

// WebSocketClient 上游语音连接用的客户端。
// 不设 Timeout：连接存活远长于握手，建连时限由调用方的 context 控制。
func WebSocketClient() *http.Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSClientConfig:     hardened("http/1.1"),
		TLSHandshakeTimeout: 10 * time.Second,
	}}
}
