package msf

import (
	"context"
	"msfrpc/catalog"
	"msfrpc/client"
	"msfrpc/message"

	"golang.org/x/sync/errgroup"
)

// Modules wraps the module.* namespace.
type Modules struct {
	c *client.Client
}

// ModuleOption describes one datastore option of a module.
type ModuleOption struct {
	Type     string   `msgpack:"type" codec:"type" json:"type"`
	Required bool     `msgpack:"required" codec:"required" json:"required"`
	Advanced bool     `msgpack:"advanced" codec:"advanced" json:"advanced"`
	Evasion  bool     `msgpack:"evasion" codec:"evasion" json:"evasion"`
	Desc     string   `msgpack:"desc" codec:"desc" json:"desc"`
	Default  any      `msgpack:"default,omitempty" codec:"default,omitempty" json:"default,omitempty"`
	Enums    []string `msgpack:"enums,omitempty" codec:"enums,omitempty" json:"enums,omitempty"`
}

// SearchResult is one hit of module.search.
type SearchResult struct {
	Type           string `msgpack:"type" codec:"type" json:"type"`
	Name           string `msgpack:"name" codec:"name" json:"name"`
	Fullname       string `msgpack:"fullname" codec:"fullname" json:"fullname"`
	Rank           string `msgpack:"rank" codec:"rank" json:"rank"`
	DisclosureDate string `msgpack:"disclosuredate" codec:"disclosuredate" json:"disclosuredate"`
}

// ExecuteResult is the reply of module.execute. JobID and UUID are set for
// exploit, auxiliary and post modules; Payload for payload generation.
type ExecuteResult struct {
	JobID   int    `msgpack:"job_id,omitempty" codec:"job_id,omitempty" json:"job_id,omitempty"`
	UUID    string `msgpack:"uuid,omitempty" codec:"uuid,omitempty" json:"uuid,omitempty"`
	Payload string `msgpack:"payload,omitempty" codec:"payload,omitempty" json:"payload,omitempty"`
}

type CheckResult struct {
	JobID int    `msgpack:"job_id" codec:"job_id" json:"job_id"`
	UUID  string `msgpack:"uuid" codec:"uuid" json:"uuid"`
}

type payloadsReply struct {
	Payloads []string `msgpack:"payloads" codec:"payloads" json:"payloads"`
}

type sessionsReply struct {
	Sessions []int `msgpack:"sessions" codec:"sessions" json:"sessions"`
}

type encodedReply struct {
	Encoded string `msgpack:"encoded" codec:"encoded" json:"encoded"`
}

func (m *Modules) Exploits(ctx context.Context) ([]string, error) {
	return m.list(ctx, catalog.ModuleExploits)
}

func (m *Modules) Auxiliary(ctx context.Context) ([]string, error) {
	return m.list(ctx, catalog.ModuleAuxiliary)
}

func (m *Modules) Post(ctx context.Context) ([]string, error) {
	return m.list(ctx, catalog.ModulePost)
}

func (m *Modules) Payloads(ctx context.Context) ([]string, error) {
	return m.list(ctx, catalog.ModulePayloads)
}

func (m *Modules) Encoders(ctx context.Context) ([]string, error) {
	return m.list(ctx, catalog.ModuleEncoders)
}

func (m *Modules) Nops(ctx context.Context) ([]string, error) {
	return m.list(ctx, catalog.ModuleNops)
}

func (m *Modules) Evasion(ctx context.Context) ([]string, error) {
	return m.list(ctx, catalog.ModuleEvasion)
}

func (m *Modules) Platforms(ctx context.Context) ([]string, error) {
	return m.list(ctx, catalog.ModulePlatforms)
}

func (m *Modules) list(ctx context.Context, method string) ([]string, error) {
	var reply listReply
	if err := m.c.Call(ctx, method, &reply); err != nil {
		return nil, err
	}
	return reply.Modules, nil
}

// listings are the methods All fans out to, keyed by module type.
var listings = []struct {
	kind   string
	method string
}{
	{"exploit", catalog.ModuleExploits},
	{"auxiliary", catalog.ModuleAuxiliary},
	{"post", catalog.ModulePost},
	{"payload", catalog.ModulePayloads},
	{"encoder", catalog.ModuleEncoders},
	{"nop", catalog.ModuleNops},
	{"evasion", catalog.ModuleEvasion},
}

// All fetches every module listing concurrently and returns them keyed by
// module type. The first failure cancels the rest.
func (m *Modules) All(ctx context.Context) (map[string][]string, error) {
	results := make([][]string, len(listings))
	g, ctx := errgroup.WithContext(ctx)
	for i, l := range listings {
		i, l := i, l
		g.Go(func() error {
			names, err := m.list(ctx, l.method)
			results[i] = names
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make(map[string][]string, len(listings))
	for i, l := range listings {
		all[l.kind] = results[i]
	}
	return all, nil
}

// EncodeFormats lists the output formats module.encode accepts.
func (m *Modules) EncodeFormats(ctx context.Context) ([]string, error) {
	var reply []string
	if err := m.c.Call(ctx, catalog.ModuleEncodeFormats, &reply); err != nil {
		return nil, err
	}
	return reply, nil
}

// Info returns the module's metadata. Its keys differ between module types.
func (m *Modules) Info(ctx context.Context, moduleType, name string) (message.Object, error) {
	var reply message.Object
	if err := m.c.Call(ctx, catalog.ModuleInfo, &reply, moduleType, name); err != nil {
		return nil, err
	}
	return reply, nil
}

func (m *Modules) Options(ctx context.Context, moduleType, name string) (map[string]ModuleOption, error) {
	var reply map[string]ModuleOption
	if err := m.c.Call(ctx, catalog.ModuleOptions, &reply, moduleType, name); err != nil {
		return nil, err
	}
	return reply, nil
}

func (m *Modules) CompatiblePayloads(ctx context.Context, exploit string) ([]string, error) {
	var reply payloadsReply
	if err := m.c.Call(ctx, catalog.ModuleCompatiblePayloads, &reply, exploit); err != nil {
		return nil, err
	}
	return reply.Payloads, nil
}

// TargetCompatiblePayloads narrows CompatiblePayloads to one exploit target.
func (m *Modules) TargetCompatiblePayloads(ctx context.Context, exploit string, target int) ([]string, error) {
	var reply payloadsReply
	if err := m.c.Call(ctx, catalog.ModuleTargetCompatiblePayloads, &reply, exploit, target); err != nil {
		return nil, err
	}
	return reply.Payloads, nil
}

// CompatibleSessions lists the ids of sessions a post module can run against.
func (m *Modules) CompatibleSessions(ctx context.Context, post string) ([]int, error) {
	var reply sessionsReply
	if err := m.c.Call(ctx, catalog.ModuleCompatibleSessions, &reply, post); err != nil {
		return nil, err
	}
	return reply.Sessions, nil
}

// Encode runs data through an encoder module. opts takes the encoder's
// datastore options plus "format".
func (m *Modules) Encode(ctx context.Context, data, encoder string, opts map[string]any) (string, error) {
	var reply encodedReply
	if err := m.c.Call(ctx, catalog.ModuleEncode, &reply, data, encoder, opts); err != nil {
		return "", err
	}
	return reply.Encoded, nil
}

// Execute launches a module with the given datastore options.
func (m *Modules) Execute(ctx context.Context, moduleType, name string, opts map[string]any) (*ExecuteResult, error) {
	var reply ExecuteResult
	if err := m.c.Call(ctx, catalog.ModuleExecute, &reply, moduleType, name, opts); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (m *Modules) Search(ctx context.Context, query string) ([]SearchResult, error) {
	var reply []SearchResult
	if err := m.c.Call(ctx, catalog.ModuleSearch, &reply, query); err != nil {
		return nil, err
	}
	return reply, nil
}

// Check runs the module's vulnerability check as a job.
func (m *Modules) Check(ctx context.Context, moduleType, name string, opts map[string]any) (*CheckResult, error) {
	var reply CheckResult
	if err := m.c.Call(ctx, catalog.ModuleCheck, &reply, moduleType, name, opts); err != nil {
		return nil, err
	}
	return &reply, nil
}
