package msf

import (
	"context"
	"msfrpc/catalog"
	"msfrpc/client"
	"msfrpc/message"
)

// Auth wraps the auth.* namespace.
type Auth struct {
	c *client.Client
}

type tokenReply struct {
	message.Status
	Token string `msgpack:"token" codec:"token" json:"token"`
}

type tokenListReply struct {
	Tokens []string `msgpack:"tokens" codec:"tokens" json:"tokens"`
}

// Login authenticates and keeps the temporary token for later calls.
func (a *Auth) Login(ctx context.Context, username, password string) error {
	return a.c.Login(ctx, username, password)
}

// Logout revokes the client's own token.
func (a *Auth) Logout(ctx context.Context) error {
	return a.c.Logout(ctx)
}

// TokenAdd registers a caller-chosen permanent token.
func (a *Auth) TokenAdd(ctx context.Context, token string) error {
	return status(ctx, a.c, catalog.AuthTokenAdd, token)
}

// TokenGenerate asks the server for a new random permanent token.
func (a *Auth) TokenGenerate(ctx context.Context) (string, error) {
	var reply tokenReply
	if err := a.c.Call(ctx, catalog.AuthTokenGenerate, &reply); err != nil {
		return "", err
	}
	return reply.Token, nil
}

func (a *Auth) TokenList(ctx context.Context) ([]string, error) {
	var reply tokenListReply
	if err := a.c.Call(ctx, catalog.AuthTokenList, &reply); err != nil {
		return nil, err
	}
	return reply.Tokens, nil
}

func (a *Auth) TokenRemove(ctx context.Context, token string) error {
	return status(ctx, a.c, catalog.AuthTokenRemove, token)
}
