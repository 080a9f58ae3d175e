// Package tlsutil 集中管理网关出站连接（上游推理服务、Redis、CLI 客户端）的 TLS 配置。
// 仅允许 TLS 1.2+ 与 AEAD 密码套件。
package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DefaultTLSConfig 返回加固后的 TLS 配置
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// SecureTransport 返回使用 DefaultTLSConfig 的 http.Transport。
// 每个上游主机保留较多空闲连接，摘要请求与主流式请求会并发打到同一主机。
func SecureTransport() *http.Transport {
	return &http.Transport{
		TLSClientConfig: DefaultTLSConfig(),
		Proxy:           http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// StreamingTransport 只限制等待响应头的时间，不限制响应体。
// 流式响应可能持续数分钟，不能使用 http.Client.Timeout。
func StreamingTransport(headerTimeout time.Duration) *http.Transport {
	tr := SecureTransport()
	if headerTimeout > 0 {
		tr.ResponseHeaderTimeout = headerTimeout
	}
	return tr
}

// SecureHTTPClient 返回带整体超时的短请求客户端
func SecureHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: SecureTransport(),
	}
}

// StreamingClient 返回用于 SSE 等长连接的客户端
func StreamingClient(headerTimeout time.Duration) *http.Client {
	return &http.Client{Transport: StreamingTransport(headerTimeout)}
}
