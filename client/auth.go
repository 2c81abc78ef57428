package client

import (
	"context"
	"msfrpc/catalog"
	"msfrpc/message"
	"msfrpc/rpcerr"
)

type loginReply struct {
	message.Status
	Token string `msgpack:"token" codec:"token" json:"token"`
}

// Login calls auth.login and stores the returned temporary token in the session.
func (c *Client) Login(ctx context.Context, username, password string) error {
	var reply loginReply
	if err := c.Call(ctx, catalog.AuthLogin, &reply, username, password); err != nil {
		return err
	}
	if reply.Token == "" {
		return &rpcerr.ProtocolError{
			Method:      catalog.AuthLogin,
			SuccessErr:  errEmptyToken,
			EnvelopeErr: errEmptyToken,
		}
	}
	c.session.SetToken(reply.Token)
	return nil
}

// Logout revokes the session's own token and clears it once the server agrees.
// Calls still in flight may have been sent with the old token.
func (c *Client) Logout(ctx context.Context) error {
	token, ok := c.session.Token()
	if !ok {
		return rpcerr.NewInvalidState(catalog.AuthLogout, "not logged in")
	}
	var reply message.Status
	if err := c.Call(ctx, catalog.AuthLogout, &reply, token); err != nil {
		return err
	}
	c.session.ClearToken()
	return nil
}

type clientError string

func (e clientError) Error() string { return string(e) }

const errEmptyToken = clientError("login reply carries no token")
