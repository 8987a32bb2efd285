package dispatcher

import (
	"crypto/tls"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPPool round-robins requests over a fixed set of keep-alive clients.
type HTTPPool struct {
	clients []*fasthttp.Client
	next    atomic.Uint32
}

func NewHTTPPool(size int) *HTTPPool {
	if size < 1 {
		size = 1
	}
	clients := make([]*fasthttp.Client, size)

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(128),
	}

	for i := 0; i < size; i++ {
		clients[i] = &fasthttp.Client{
			Name:                "openguard",
			MaxConnsPerHost:     256,
			MaxIdleConnDuration: 90 * time.Second,
			ReadTimeout:         5 * time.Second,
			WriteTimeout:        5 * time.Second,
			MaxConnWaitTimeout:  time.Second,
			MaxResponseBodySize: 1 << 20,

			// Retries are owned by the executor's backoff policy.
			MaxIdemponentCallAttempts: 1,

			DialDualStack: true,
			TLSConfig:     tlsConfig,
		}
	}

	return &HTTPPool{clients: clients}
}

func (hp *HTTPPool) GetClient() *fasthttp.Client {
	i := hp.next.Add(1)
	return hp.clients[int(i)%len(hp.clients)]
}

func (hp *HTTPPool) Size() int {
	return len(hp.clients)
}
