package kv

import "sync"

// Vaults is the REST-backed VaultSet. It caches one Client per custody
// namespace; all clients share the same token source and options.
type Vaults struct {
	tokens TokenSource
	opts   []ClientOption

	mu      sync.Mutex
	clients map[string]*Client
}

// NewVaults returns a VaultSet building REST clients on demand.
func NewVaults(tokens TokenSource, opts ...ClientOption) *Vaults {
	return &Vaults{
		tokens:  tokens,
		opts:    opts,
		clients: make(map[string]*Client),
	}
}

func (v *Vaults) client(vault string) *Client {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.clients[vault]
	if !ok {
		c = NewClient(vault, v.tokens, v.opts...)
		v.clients[vault] = c
	}
	return c
}

// Certificates implements VaultSet.
func (v *Vaults) Certificates(vault string) CertificateClient { return v.client(vault) }

// Signer implements VaultSet. Key identifiers are absolute URLs, so the
// signer for any namespace can serve keys it is authorized for.
func (v *Vaults) Signer(vault string) SignClient { return v.client(vault) }
