package server

import (
	"context"
	"crypto/subtle"
	"msfrpc/message"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// authService implements the auth.* methods against a single account.
type authService struct {
	username string
	password string

	mu     sync.RWMutex
	tokens map[string]bool
}

func newAuthService(username, password string) *authService {
	return &authService{
		username: username,
		password: password,
		tokens:   make(map[string]bool),
	}
}

type loginReply struct {
	message.Status
	Token string `msgpack:"token" codec:"token" json:"token"`
}

type tokenListReply struct {
	Tokens []string `msgpack:"tokens" codec:"tokens" json:"tokens"`
}

func (a *authService) valid(token string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tokens[token]
}

func (a *authService) add(token string) {
	a.mu.Lock()
	a.tokens[token] = true
	a.mu.Unlock()
}

// newToken mimics msfrpcd: temporary tokens are "TEMP" plus 28 random
// characters, permanent ones 32 random characters.
func newToken(temporary bool) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if temporary {
		return "TEMP" + raw[:28]
	}
	return raw
}

func (a *authService) Login(ctx context.Context, args Args, reply *loginReply) error {
	user, err := args.String(0)
	if err != nil {
		return NewError(http.StatusBadRequest, err.Error())
	}
	pass, err := args.String(1)
	if err != nil {
		return NewError(http.StatusBadRequest, err.Error())
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(a.password)) == 1
	if !userOK || !passOK {
		return NewError(http.StatusUnauthorized, "Login Failed")
	}
	token := newToken(true)
	a.add(token)
	reply.Result = message.SuccessResult
	reply.Token = token
	return nil
}

func (a *authService) Logout(ctx context.Context, args Args, reply *message.Status) error {
	token, err := args.String(0)
	if err != nil {
		return NewError(http.StatusBadRequest, err.Error())
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.tokens[token] {
		return NewError(http.StatusInternalServerError, "Invalid Authentication Token")
	}
	delete(a.tokens, token)
	reply.Result = message.SuccessResult
	return nil
}

func (a *authService) TokenAdd(ctx context.Context, args Args, reply *message.Status) error {
	token, err := args.String(0)
	if err != nil {
		return NewError(http.StatusBadRequest, err.Error())
	}
	a.add(token)
	reply.Result = message.SuccessResult
	return nil
}

func (a *authService) TokenGenerate(ctx context.Context, args Args, reply *loginReply) error {
	token := newToken(false)
	a.add(token)
	reply.Result = message.SuccessResult
	reply.Token = token
	return nil
}

func (a *authService) TokenList(ctx context.Context, args Args, reply *tokenListReply) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	reply.Tokens = make([]string, 0, len(a.tokens))
	for token := range a.tokens {
		reply.Tokens = append(reply.Tokens, token)
	}
	sort.Strings(reply.Tokens)
	return nil
}

func (a *authService) TokenRemove(ctx context.Context, args Args, reply *message.Status) error {
	token, err := args.String(0)
	if err != nil {
		return NewError(http.StatusBadRequest, err.Error())
	}
	a.mu.Lock()
	delete(a.tokens, token)
	a.mu.Unlock()
	reply.Result = message.SuccessResult
	return nil
}
