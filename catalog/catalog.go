// Package catalog is the call table for the Metasploit RPC API.
//
// Every method is described once, as data: its dotted name, whether it needs
// the session token, the kinds of its positional parameters, and whether its
// reply carries a "result" field that must equal "success". Build turns a
// method name plus arguments into the exact ordered field list the server
// expects, so no call site ever hand-encodes a request.
//
//	[ method, token, param1, param2, ... ]
//	  │       │      └── checked against Spec.Params, in order
//	  │       └── only when Spec.Auth, taken from the TokenSource
//	  └── Spec.Name
package catalog

import (
	"msfrpc/message"
	"msfrpc/rpcerr"
	"sort"
	"sync"
)

// Kind is the wire type of a positional parameter.
type Kind int

const (
	String Kind = iota
	Int
	Bool
	StringList
	Map
	Any
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case StringList:
		return "[]string"
	case Map:
		return "map"
	default:
		return "any"
	}
}

// Param describes one positional argument. Optional params may only trail.
type Param struct {
	Name     string
	Kind     Kind
	Optional bool
}

// Spec is one entry in the call table.
type Spec struct {
	Name        string
	Auth        bool // Token goes right after the method name
	Params      []Param
	CheckStatus bool // Reply must report result == "success"
}

// TokenSource supplies the current authentication token.
type TokenSource interface {
	Token() (string, bool)
}

// Catalog maps method names to specs. It is safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

func New(specs ...Spec) *Catalog {
	c := &Catalog{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		c.specs[s.Name] = s
	}
	return c
}

// Default returns a fresh catalog holding the Metasploit RPC methods.
func Default() *Catalog {
	return New(metasploitSpecs()...)
}

// Register adds or replaces a spec.
func (c *Catalog) Register(s Spec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[s.Name] = s
}

func (c *Catalog) Lookup(method string) (Spec, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.specs[method]
	return s, ok
}

// Methods returns every registered method name, sorted.
func (c *Catalog) Methods() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.specs))
	for name := range c.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build validates args against the method's spec and returns the call ready
// for the pipeline. Every failure is an *rpcerr.InvalidStateError and happens
// before any I/O.
func (c *Catalog) Build(ts TokenSource, method string, args ...any) (*message.Call, error) {
	spec, ok := c.Lookup(method)
	if !ok {
		return nil, rpcerr.NewInvalidState(method, "method not in catalog")
	}

	params := make([]any, 0, len(args)+1)
	if spec.Auth {
		var (
			token string
			has   bool
		)
		if ts != nil {
			token, has = ts.Token()
		}
		if !has || token == "" {
			return nil, rpcerr.NewInvalidState(method, "no authentication token; log in first")
		}
		params = append(params, token)
	}

	required := 0
	for _, p := range spec.Params {
		if !p.Optional {
			required++
		}
	}
	if len(args) < required || len(args) > len(spec.Params) {
		if required == len(spec.Params) {
			return nil, rpcerr.NewInvalidState(method, "expects %d arguments, got %d", required, len(args))
		}
		return nil, rpcerr.NewInvalidState(method, "expects %d to %d arguments, got %d",
			required, len(spec.Params), len(args))
	}

	for i, arg := range args {
		p := spec.Params[i]
		v, err := coerce(p.Kind, arg)
		if err != nil {
			return nil, rpcerr.NewInvalidState(method, "argument %q: %v", p.Name, err)
		}
		params = append(params, v)
	}

	return &message.Call{
		Method:      spec.Name,
		Params:      params,
		CheckStatus: spec.CheckStatus,
	}, nil
}
