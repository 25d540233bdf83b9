package daemon

import (
	"container/list"
	"sync"
)

const defaultPoolSize = 16

// Pool hands out one Client per normalized base URL so that requests targeting
// the same daemon share its health cache. The number of non-default clients is
// bounded; the least recently used one is evicted first.
type Pool struct {
	cfg  Config
	opts []Option
	def  *Client
	max  int

	mu      sync.Mutex
	order   *list.List // front = most recently used
	clients map[string]*list.Element
}

type poolEntry struct {
	key    string
	client *Client
}

// NewPool builds a pool whose default client uses cfg. Clients created for
// other URLs copy cfg with BaseURL replaced and share opts. max <= 0 selects 16.
func NewPool(cfg Config, max int, opts ...Option) *Pool {
	if max <= 0 {
		max = defaultPoolSize
	}
	return &Pool{
		cfg:     cfg,
		opts:    opts,
		def:     New(cfg, opts...),
		max:     max,
		order:   list.New(),
		clients: map[string]*list.Element{},
	}
}

// Default returns the client for the configured base URL.
func (p *Pool) Default() *Client { return p.def }

// Get returns the client for baseURL. An empty baseURL or one equal to the
// default address yields the default client. Invalid URLs are validation errors.
func (p *Pool) Get(baseURL string) (*Client, error) {
	if baseURL == "" {
		return p.def, nil
	}
	key, err := ValidateBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if key == p.def.BaseURL() {
		return p.def, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.clients[key]; ok {
		p.order.MoveToFront(el)
		return el.Value.(*poolEntry).client, nil
	}
	cfg := p.cfg
	cfg.BaseURL = key
	c := New(cfg, p.opts...)
	p.clients[key] = p.order.PushFront(&poolEntry{key: key, client: c})
	for p.order.Len() > p.max {
		last := p.order.Back()
		p.order.Remove(last)
		delete(p.clients, last.Value.(*poolEntry).key)
	}
	return c, nil
}

// Len reports the number of cached non-default clients.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}
