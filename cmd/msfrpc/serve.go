package main

import (
	"context"
	"flag"
	"fmt"
	"msfrpc/catalog"
	"msfrpc/registry"
	"msfrpc/server"
	"msfrpc/transport"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/cli"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type serveCmd struct {
	ui    cli.Ui
	flags *flag.FlagSet

	addr       string
	streamAddr string
	username   string
	password   string
	etcd       string
	service    string
	debug      bool
}

func newServeCmd(ui cli.Ui) *serveCmd {
	c := &serveCmd{ui: ui}
	c.flags = flag.NewFlagSet("serve", flag.ContinueOnError)
	c.flags.SetOutput(&uiWriter{ui: ui})
	c.flags.StringVar(&c.addr, "addr", "127.0.0.1:55552", "HTTP listen address.")
	c.flags.StringVar(&c.streamAddr, "stream-addr", "", "Optional raw MessagePack listen address.")
	c.flags.StringVar(&c.username, "user", "msf", "Login user name.")
	c.flags.StringVar(&c.password, "pass", "", "Login password. Required.")
	c.flags.StringVar(&c.etcd, "etcd", "", "Comma-separated etcd endpoints to announce the server in.")
	c.flags.StringVar(&c.service, "service", "msfrpcd", "Service name used with -etcd.")
	c.flags.BoolVar(&c.debug, "debug", false, "Log every call.")
	return c
}

func (c *serveCmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return exitError
	}
	if c.password == "" {
		c.ui.Error("-pass is required")
		return exitError
	}

	logger, err := c.logger()
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svr, err := newLabServer(logger, c.username, c.password)
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	if err := c.serve(ctx, svr, logger); err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	return exitOK
}

func (c *serveCmd) logger() (*zap.Logger, error) {
	if c.debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (c *serveCmd) serve(ctx context.Context, svr *server.Server, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	hs := &http.Server{Handler: svr, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 2)
	go func() { errc <- hs.Serve(ln) }()
	logger.Info("serving msfrpc API", zap.String("addr", ln.Addr().String()))

	if c.streamAddr != "" {
		sln, err := net.Listen("tcp", c.streamAddr)
		if err != nil {
			hs.Close()
			return errors.Wrap(err, "listen stream")
		}
		go func() { errc <- svr.Serve(sln) }()
		logger.Info("serving raw MessagePack", zap.String("addr", sln.Addr().String()))
	}

	if c.etcd != "" {
		reg, err := registry.NewEtcdRegistry(splitList(c.etcd), 5*time.Second, logger)
		if err != nil {
			hs.Close()
			return errors.Wrap(err, "etcd")
		}
		defer reg.Close()
		host, portStr, _ := net.SplitHostPort(ln.Addr().String())
		port, _ := strconv.Atoi(portStr)
		inst := registry.ServiceInstance{
			Endpoint: transport.Endpoint{Host: host, Port: port, Path: transport.DefaultPath},
			Weight:   1,
			Version:  labVersion,
		}
		if err := svr.Announce(ctx, reg, c.service, inst, 10); err != nil {
			hs.Close()
			return errors.Wrap(err, "announce")
		}
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", zap.Error(err))
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return svr.Shutdown(5 * time.Second)
}

func (c *serveCmd) Synopsis() string { return "Runs a local msfrpcd double" }
func (c *serveCmd) Help() string {
	return usage(`
Usage: msfrpc serve [options]

  Serves the Metasploit RPC wire protocol with canned replies, for trying
  the client without a Metasploit install. Supports auth.*, core.version,
  core.module_stats, job.list, session.list and an echoing console.*.`, c.flags)
}

const labVersion = "6.4.0-double"

func newLabServer(logger *zap.Logger, username, password string) (*server.Server, error) {
	svr := server.NewServer(server.WithLogger(logger), server.WithCredentials(username, password))
	svr.HandleFunc(catalog.CoreVersion, func(ctx context.Context, args server.Args) (any, error) {
		return map[string]string{"version": labVersion, "ruby": "3.2.2", "api": "1.0"}, nil
	})
	svr.HandleFunc(catalog.CoreModuleStats, func(ctx context.Context, args server.Args) (any, error) {
		return map[string]int{"exploits": 0, "auxiliary": 0, "post": 0, "encoders": 0, "nops": 0, "payloads": 0, "evasion": 0}, nil
	})
	svr.HandleFunc(catalog.JobList, func(ctx context.Context, args server.Args) (any, error) {
		return map[string]string{}, nil
	})
	svr.HandleFunc(catalog.SessionList, func(ctx context.Context, args server.Args) (any, error) {
		return map[int]any{}, nil
	})
	if err := svr.Register("console", newLabConsoles()); err != nil {
		return nil, err
	}
	return svr, nil
}

type labConsole struct {
	ID     string `msgpack:"id"`
	Prompt string `msgpack:"prompt"`
	Busy   bool   `msgpack:"busy"`
}

type labOutput struct {
	Data   string `msgpack:"data"`
	Prompt string `msgpack:"prompt"`
	Busy   bool   `msgpack:"busy"`
}

type labConsoleList struct {
	Consoles []labConsole `msgpack:"consoles"`
}

type labStatus struct {
	Result string `msgpack:"result"`
}

// labConsoles echoes every command written to a console.
type labConsoles struct {
	mu     sync.Mutex
	next   int
	output map[string]string
}

func newLabConsoles() *labConsoles {
	return &labConsoles{output: make(map[string]string)}
}

const labPrompt = "msf6 > "

func (l *labConsoles) Create(ctx context.Context, args server.Args, reply *labConsole) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := strconv.Itoa(l.next)
	l.next++
	l.output[id] = "Metasploit RPC double " + labVersion + "\n"
	*reply = labConsole{ID: id, Prompt: labPrompt}
	return nil
}

func (l *labConsoles) Destroy(ctx context.Context, args server.Args, reply *labStatus) error {
	id, err := l.lookup(args)
	if err != nil {
		return err
	}
	l.mu.Lock()
	delete(l.output, id)
	l.mu.Unlock()
	reply.Result = "success"
	return nil
}

func (l *labConsoles) List(ctx context.Context, args server.Args, reply *labConsoleList) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	reply.Consoles = []labConsole{}
	for id := range l.output {
		reply.Consoles = append(reply.Consoles, labConsole{ID: id, Prompt: labPrompt})
	}
	return nil
}

func (l *labConsoles) Write(ctx context.Context, args server.Args, reply *map[string]int) error {
	id, err := l.lookup(args)
	if err != nil {
		return err
	}
	data, err := args.String(1)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.output[id] += fmt.Sprintf("%s%s[*] exec: %s", labPrompt, data, data)
	l.mu.Unlock()
	*reply = map[string]int{"wrote": len(data)}
	return nil
}

func (l *labConsoles) Read(ctx context.Context, args server.Args, reply *labOutput) error {
	id, err := l.lookup(args)
	if err != nil {
		return err
	}
	l.mu.Lock()
	reply.Data = l.output[id]
	l.output[id] = ""
	l.mu.Unlock()
	reply.Prompt = labPrompt
	return nil
}

func (l *labConsoles) lookup(args server.Args) (string, error) {
	id, err := args.String(0)
	if err != nil {
		return "", err
	}
	l.mu.Lock()
	_, ok := l.output[id]
	l.mu.Unlock()
	if !ok {
		return "", server.NewError(http.StatusInternalServerError, "Invalid Console ID")
	}
	return id, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
