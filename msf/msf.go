// Package msf exposes the Metasploit RPC API as typed methods over a
// client.Client. Each method names one catalog entry, passes its positional
// arguments and declares the reply shape; the pipeline does the rest.
//
//	rpc := msf.New(c)
//	if err := rpc.Auth.Login(ctx, "msf", "password"); err != nil { ... }
//	jobs, err := rpc.Jobs.List(ctx)
package msf

import (
	"context"
	"msfrpc/client"
	"msfrpc/message"
)

// MSF groups the call sites by API namespace.
type MSF struct {
	Auth     *Auth
	Core     *Core
	Consoles *Consoles
	Jobs     *Jobs
	Sessions *Sessions
	Modules  *Modules

	client *client.Client
}

func New(c *client.Client) *MSF {
	return &MSF{
		Auth:     &Auth{c: c},
		Core:     &Core{c: c},
		Consoles: &Consoles{c: c},
		Jobs:     &Jobs{c: c},
		Sessions: &Sessions{c: c},
		Modules:  &Modules{c: c},
		client:   c,
	}
}

// Client returns the underlying pipeline.
func (m *MSF) Client() *client.Client {
	return m.client
}

// status runs a call whose reply only reports result == "success".
func status(ctx context.Context, c *client.Client, method string, args ...any) error {
	var reply message.Status
	return c.Call(ctx, method, &reply, args...)
}

// listReply is the {"modules": [...]} shape shared by the module listings.
type listReply struct {
	Modules []string `msgpack:"modules" codec:"modules" json:"modules"`
}
