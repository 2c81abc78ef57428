package msf

import (
	"context"
	"msfrpc/catalog"
	"msfrpc/client"
	"msfrpc/message"
)

// Core wraps the core.* namespace.
type Core struct {
	c *client.Client
}

type Version struct {
	Version string `msgpack:"version" codec:"version" json:"version"`
	Ruby    string `msgpack:"ruby" codec:"ruby" json:"ruby"`
	API     string `msgpack:"api" codec:"api" json:"api"`
}

// ModuleStats counts the loaded modules per type.
type ModuleStats struct {
	Exploits  int `msgpack:"exploits" codec:"exploits" json:"exploits"`
	Auxiliary int `msgpack:"auxiliary" codec:"auxiliary" json:"auxiliary"`
	Post      int `msgpack:"post" codec:"post" json:"post"`
	Encoders  int `msgpack:"encoders" codec:"encoders" json:"encoders"`
	Nops      int `msgpack:"nops" codec:"nops" json:"nops"`
	Payloads  int `msgpack:"payloads" codec:"payloads" json:"payloads"`
	Evasion   int `msgpack:"evasion" codec:"evasion" json:"evasion"`
}

// Thread describes one framework thread.
type Thread struct {
	Status   string `msgpack:"status" codec:"status" json:"status"`
	Critical bool   `msgpack:"critical" codec:"critical" json:"critical"`
	Name     string `msgpack:"name" codec:"name" json:"name"`
	Started  string `msgpack:"started" codec:"started" json:"started"`
}

func (c *Core) Version(ctx context.Context) (*Version, error) {
	var reply Version
	if err := c.c.Call(ctx, catalog.CoreVersion, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Core) ModuleStats(ctx context.Context) (*ModuleStats, error) {
	return c.stats(ctx, catalog.CoreModuleStats)
}

// ReloadModules rescans the module paths and returns the new counts.
func (c *Core) ReloadModules(ctx context.Context) (*ModuleStats, error) {
	return c.stats(ctx, catalog.CoreReloadModules)
}

func (c *Core) AddModulePath(ctx context.Context, path string) (*ModuleStats, error) {
	return c.stats(ctx, catalog.CoreAddModulePath, path)
}

func (c *Core) stats(ctx context.Context, method string, args ...any) (*ModuleStats, error) {
	var reply ModuleStats
	if err := c.c.Call(ctx, method, &reply, args...); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Save persists the global datastore.
func (c *Core) Save(ctx context.Context) error {
	return status(ctx, c.c, catalog.CoreSave)
}

// SetG sets a global datastore option.
func (c *Core) SetG(ctx context.Context, name string, value any) error {
	return status(ctx, c.c, catalog.CoreSetG, name, value)
}

func (c *Core) UnsetG(ctx context.Context, name string) error {
	return status(ctx, c.c, catalog.CoreUnsetG, name)
}

// GetG returns the reply map, which holds name and its value.
func (c *Core) GetG(ctx context.Context, name string) (message.Object, error) {
	var reply message.Object
	if err := c.c.Call(ctx, catalog.CoreGetG, &reply, name); err != nil {
		return nil, err
	}
	return reply, nil
}

// ThreadList returns the framework threads keyed by thread id.
func (c *Core) ThreadList(ctx context.Context) (map[int]Thread, error) {
	var reply map[int]Thread
	if err := c.c.Call(ctx, catalog.CoreThreadList, &reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Core) ThreadKill(ctx context.Context, id int) error {
	return status(ctx, c.c, catalog.CoreThreadKill, id)
}

// Stop shuts the RPC server down.
func (c *Core) Stop(ctx context.Context) error {
	return status(ctx, c.c, catalog.CoreStop)
}
