package presence

// Resolve returns every agent registered under address, earliest registration first
func (r *Registry) Resolve(address string) []Endpoint {
	if address == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byAddress[address]
	matches := make([]Endpoint, 0, len(ids))
	for _, id := range ids {
		if ep, ok := r.endpoints[id]; ok {
			matches = append(matches, *ep)
		}
	}
	return matches
}

// ResolveAvailable returns the earliest-registered agent at address that is not in a call
func (r *Registry) ResolveAvailable(address string) (Endpoint, bool) {
	for _, ep := range r.Resolve(address) {
		if !ep.InCall {
			return ep, true
		}
	}
	return Endpoint{}, false
}
