// Package endpoint implements the address/port-label model used to route
// packets between mailim sockets, including the wildcard matching rules
// that listening sockets rely on.
package endpoint

import "fmt"

// Endpoint is a (address, port) pair identifying one side of a socket.
// The zero value matches any address and any port.
type Endpoint struct {
	Address string
	Port    string
}

// New builds an Endpoint from an address and port label.
func New(address, port string) Endpoint {
	return Endpoint{Address: address, Port: port}
}

// String renders the endpoint as "address:port" for logging.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%s", e.Address, e.Port)
}

// Complete reports whether e names a concrete address and port: a complete
// endpoint can be the local endpoint of a Connected socket.
func (e Endpoint) Complete() bool {
	return e.Address != "" && e.Port != "" && !hasWildcardPrefix(e.Address)
}

// Matches reports whether e, used as a pattern, matches other. e.Address
// may be empty (matches anything) or a wildcard of the form "@domain"
// (matches any address ending in that suffix). e.Port empty matches any
// port.
func (e Endpoint) Matches(other Endpoint) bool {
	return addressMatches(e.Address, other.Address) && portMatches(e.Port, other.Port)
}

// Intersects reports whether e and other admit some common complete
// endpoint: the symmetric generalization of Matches used to detect
// collisions between two listening endpoints.
func (e Endpoint) Intersects(other Endpoint) bool {
	return addressIntersects(e.Address, other.Address) && portIntersects(e.Port, other.Port)
}

func hasWildcardPrefix(address string) bool {
	return len(address) > 0 && address[0] == '@'
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func addressMatches(pattern, address string) bool {
	if pattern == "" || pattern == address {
		return true
	}
	return hasWildcardPrefix(pattern) && hasSuffix(address, pattern)
}

func portMatches(pattern, port string) bool {
	return pattern == "" || pattern == port
}

func addressIntersects(a, b string) bool {
	if a == "" || b == "" || a == b {
		return true
	}
	if hasWildcardPrefix(a) && hasSuffix(b, a) {
		return true
	}
	if hasWildcardPrefix(b) && hasSuffix(a, b) {
		return true
	}
	return false
}

func portIntersects(a, b string) bool {
	return a == "" || b == "" || a == b
}

// Pair identifies a connected socket by its local and remote endpoints.
// It is comparable and usable as a map key, matching the Mailbox
// invariant that (local,remote) is unique across Connected sockets.
type Pair struct {
	Local  Endpoint
	Remote Endpoint
}

// String renders the pair as "local->remote" for logging.
func (p Pair) String() string {
	return fmt.Sprintf("%s->%s", p.Local, p.Remote)
}
