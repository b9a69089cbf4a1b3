package http

import (
	nativehttp "net/http"
	"sync"
)

// TransportPool shares base transports between upstreams with the same TLS
// setup so connections are reused across clients.
var TransportPool = &transportsPool{
	transports: make(map[string]*nativehttp.Transport),
}

type transportsPool struct {
	transports map[string]*nativehttp.Transport
	lock       sync.Mutex
}

// GetOrCreate returns the transport stored under key, building it once.
// A failed build is not cached.
func (p *transportsPool) GetOrCreate(key string, build func() (*nativehttp.Transport, error)) (*nativehttp.Transport, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if tr, ok := p.transports[key]; ok {
		return tr, nil
	}
	tr, err := build()
	if err != nil {
		return nil, err
	}
	p.transports[key] = tr
	return tr, nil
}

func (p *transportsPool) Len() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.transports)
}

// CloseIdle drops idle upstream connections, called on shutdown.
func (p *transportsPool) CloseIdle() {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, tr := range p.transports {
		tr.CloseIdleConnections()
	}
}
