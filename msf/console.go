package msf

import (
	"context"
	"msfrpc/catalog"
	"msfrpc/client"
)

// Consoles wraps the console.* namespace.
type Consoles struct {
	c *client.Client
}

type Console struct {
	ID     string `msgpack:"id" codec:"id" json:"id"`
	Prompt string `msgpack:"prompt" codec:"prompt" json:"prompt"`
	Busy   bool   `msgpack:"busy" codec:"busy" json:"busy"`
}

// ConsoleOutput is what console.read returns: the buffered output since
// the last read.
type ConsoleOutput struct {
	Data   string `msgpack:"data" codec:"data" json:"data"`
	Prompt string `msgpack:"prompt" codec:"prompt" json:"prompt"`
	Busy   bool   `msgpack:"busy" codec:"busy" json:"busy"`
}

type consoleListReply struct {
	Consoles []Console `msgpack:"consoles" codec:"consoles" json:"consoles"`
}

type wroteReply struct {
	Wrote int `msgpack:"wrote" codec:"wrote" json:"wrote"`
}

type tabsReply struct {
	Tabs []string `msgpack:"tabs" codec:"tabs" json:"tabs"`
}

// Create allocates a console. opts may be nil.
func (c *Consoles) Create(ctx context.Context, opts map[string]any) (*Console, error) {
	var args []any
	if opts != nil {
		args = append(args, opts)
	}
	var reply Console
	if err := c.c.Call(ctx, catalog.ConsoleCreate, &reply, args...); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Consoles) Destroy(ctx context.Context, id string) error {
	return status(ctx, c.c, catalog.ConsoleDestroy, id)
}

func (c *Consoles) List(ctx context.Context) ([]Console, error) {
	var reply consoleListReply
	if err := c.c.Call(ctx, catalog.ConsoleList, &reply); err != nil {
		return nil, err
	}
	return reply.Consoles, nil
}

// Write sends input to the console and returns the number of bytes accepted.
// Commands need a trailing newline.
func (c *Consoles) Write(ctx context.Context, id, data string) (int, error) {
	var reply wroteReply
	if err := c.c.Call(ctx, catalog.ConsoleWrite, &reply, id, data); err != nil {
		return 0, err
	}
	return reply.Wrote, nil
}

func (c *Consoles) Read(ctx context.Context, id string) (*ConsoleOutput, error) {
	var reply ConsoleOutput
	if err := c.c.Call(ctx, catalog.ConsoleRead, &reply, id); err != nil {
		return nil, err
	}
	return &reply, nil
}

// SessionDetach backgrounds the session the console is interacting with.
func (c *Consoles) SessionDetach(ctx context.Context, id string) error {
	return status(ctx, c.c, catalog.ConsoleSessionDetach, id)
}

func (c *Consoles) SessionKill(ctx context.Context, id string) error {
	return status(ctx, c.c, catalog.ConsoleSessionKill, id)
}

// Tabs returns completions for a partial input line.
func (c *Consoles) Tabs(ctx context.Context, id, line string) ([]string, error) {
	var reply tabsReply
	if err := c.c.Call(ctx, catalog.ConsoleTabs, &reply, id, line); err != nil {
		return nil, err
	}
	return reply.Tabs, nil
}
