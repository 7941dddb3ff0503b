package proxybind

// Endpoint is a concrete egress the browser launcher can dial.
type Endpoint struct {
	Server   string // scheme://host:port
	Username string
	Password string
}

// Source resolves a binding's session key to an endpoint.
type Source interface {
	Endpoint(b Binding) (Endpoint, error)
}

// StaticSource points every binding at a single upstream gateway.
// When credentials are present the session key is folded into the
// username, which is how gateway providers pin the exit IP per
// logical session.
type StaticSource struct {
	Server   string
	Username string
	Password string
}

// Endpoint implements Source.
func (s StaticSource) Endpoint(b Binding) (Endpoint, error) {
	ep := Endpoint{Server: s.Server, Username: s.Username, Password: s.Password}
	if s.Username != "" && b.SessionKey != "" {
		ep.Username = s.Username + "-session-" + b.SessionKey
	}
	return ep, nil
}

var _ Source = StaticSource{}
