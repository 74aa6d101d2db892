package rbac

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Policy is the resolved access metadata of one route. It is never mutated
// after NewTable returns.
type Policy struct {
	Public      bool
	Roles       []string
	Permissions []string
}

// Option declares access metadata on a Controller or a Route.
type Option func(*attributes)

type attributes struct {
	public         bool
	publicSet      bool
	roles          []string
	rolesSet       bool
	permissions    []string
	permissionsSet bool
	// empty names the options that were given only blank names.
	empty []string
}

// Public marks routes as reachable without credentials.
func Public() Option {
	return func(a *attributes) {
		a.public, a.publicSet = true, true
	}
}

// Authenticated requires a valid bearer token and nothing else. On a route
// it clears a Public marker inherited from the controller.
func Authenticated() Option {
	return func(a *attributes) {
		a.public, a.publicSet = false, true
	}
}

// Roles requires the principal's role to be one of names. Roles() with no
// arguments on a route clears the role requirement inherited from its
// controller. Names that are all blank make NewTable fail.
func Roles(names ...string) Option {
	return func(a *attributes) {
		a.roles, a.rolesSet = cleanNames(names), true
		if len(names) > 0 && len(a.roles) == 0 {
			a.empty = append(a.empty, "Roles")
		}
	}
}

// Permissions requires the principal to hold every one of names. At least
// one non-blank name is required, otherwise NewTable fails.
func Permissions(names ...string) Option {
	return func(a *attributes) {
		a.permissions, a.permissionsSet = normalizePermissions(names), true
		if len(a.permissions) == 0 {
			a.empty = append(a.empty, "Permissions")
		}
	}
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func collect(opts []Option) attributes {
	var a attributes
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// Route is one handler registration.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
	Options []Option
}

// Get declares a GET route.
func Get(path string, h http.HandlerFunc, opts ...Option) Route {
	return Route{Method: http.MethodGet, Path: path, Handler: h, Options: opts}
}

// Post declares a POST route.
func Post(path string, h http.HandlerFunc, opts ...Option) Route {
	return Route{Method: http.MethodPost, Path: path, Handler: h, Options: opts}
}

// Controller groups routes under a prefix with shared metadata.
type Controller struct {
	Prefix  string
	Options []Option
	Routes  []Route
}

// Entry is one resolved row of the route table.
type Entry struct {
	Method  string
	Path    string
	Policy  Policy
	handler http.HandlerFunc
}

type routeKey struct {
	method string
	path   string
}

// Table is the immutable route table built once at startup.
type Table struct {
	entries []Entry
	index   map[routeKey]int
}

// NewTable resolves controllers into a Table. Route-level attributes take
// precedence over controller-level ones per attribute. Registering the same
// method and path twice is an error.
func NewTable(controllers ...Controller) (*Table, error) {
	t := &Table{index: make(map[routeKey]int)}
	for _, c := range controllers {
		base := collect(c.Options)
		if len(base.empty) > 0 {
			return nil, fmt.Errorf("rbac: controller %q declares %s without names", c.Prefix, base.empty[0])
		}
		for _, rt := range c.Routes {
			if rt.Handler == nil {
				return nil, fmt.Errorf("rbac: %s %s has no handler", rt.Method, joinPath(c.Prefix, rt.Path))
			}
			own := collect(rt.Options)
			if len(own.empty) > 0 {
				return nil, fmt.Errorf("rbac: %s %s declares %s without names", rt.Method, joinPath(c.Prefix, rt.Path), own.empty[0])
			}
			entry := Entry{
				Method:  strings.ToUpper(rt.Method),
				Path:    joinPath(c.Prefix, rt.Path),
				Policy:  resolve(base, own),
				handler: rt.Handler,
			}
			key := routeKey{method: entry.Method, path: entry.Path}
			if _, dup := t.index[key]; dup {
				return nil, fmt.Errorf("rbac: duplicate route %s %s", entry.Method, entry.Path)
			}
			t.index[key] = len(t.entries)
			t.entries = append(t.entries, entry)
		}
	}
	return t, nil
}

func resolve(controller, route attributes) Policy {
	p := Policy{
		Public:      controller.public,
		Roles:       controller.roles,
		Permissions: controller.permissions,
	}
	if route.publicSet {
		p.Public = route.public
	}
	if route.rolesSet {
		p.Roles = route.roles
	}
	if route.permissionsSet {
		p.Permissions = route.permissions
	}
	p.Roles = append([]string(nil), p.Roles...)
	p.Permissions = append([]string(nil), p.Permissions...)
	return p
}

func joinPath(prefix, path string) string {
	prefix = strings.TrimRight(prefix, "/")
	if path == "" || path == "/" {
		if prefix == "" {
			return "/"
		}
		return prefix
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return prefix + path
}

// Lookup returns the entry registered for method and path.
func (t *Table) Lookup(method, path string) (Entry, bool) {
	i, ok := t.index[routeKey{method: strings.ToUpper(method), path: path}]
	if !ok {
		return Entry{}, false
	}
	return t.entries[i], true
}

// Entries returns a copy of the table rows in registration order.
func (t *Table) Entries() []Entry {
	return append([]Entry(nil), t.entries...)
}

// Mount registers every entry on r behind the pipeline guard bound to it.
func (t *Table) Mount(r chi.Router, p *Pipeline) {
	for _, e := range t.entries {
		r.Method(e.Method, e.Path, p.Guard(e, e.handler))
	}
}
