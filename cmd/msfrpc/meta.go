package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"msfrpc/config"
	"msfrpc/msf"
	"msfrpc/rpcerr"
	"strings"

	"github.com/mitchellh/cli"
	"go.uber.org/zap"
)

// Exit codes by error kind.
const (
	exitOK = iota
	exitError
	exitConnection
	exitInvalidState
	exitServer
	exitProtocol
)

// meta holds the flags every client command shares.
type meta struct {
	ui cli.Ui

	configPath string
	host       string
	port       int
	insecure   bool
	plain      bool
}

func (m *meta) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(&uiWriter{ui: m.ui})
	fs.StringVar(&m.configPath, "config", "", "Path to a YAML config file.")
	fs.StringVar(&m.host, "host", "", "msfrpcd host. Overrides the config.")
	fs.IntVar(&m.port, "port", 0, "msfrpcd port. Overrides the config.")
	fs.BoolVar(&m.insecure, "insecure", false, "Skip TLS certificate verification.")
	fs.BoolVar(&m.plain, "plain", false, "Use plain HTTP instead of HTTPS.")
	return fs
}

// connect loads the config, applies flag overrides, and logs in. The
// returned func logs out and closes the client.
func (m *meta) connect(ctx context.Context) (*msf.MSF, func(), error) {
	cfg, err := config.Load(m.configPath)
	if err != nil {
		return nil, nil, err
	}
	if m.host != "" {
		cfg.Endpoint.Host = m.host
	}
	if m.port != 0 {
		cfg.Endpoint.Port = m.port
	}
	if m.insecure {
		cfg.Endpoint.InsecureSkipVerify = true
	}
	if m.plain {
		cfg.Endpoint.TLS = false
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	c, err := cfg.Connect(ctx, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}

	rpc := msf.New(c)
	if err := rpc.Auth.Login(ctx, cfg.Username, cfg.Password); err != nil {
		c.Close()
		logger.Sync()
		return nil, nil, err
	}
	return rpc, func() {
		if err := rpc.Auth.Logout(ctx); err != nil {
			logger.Warn("logout", zap.Error(err))
		}
		c.Close()
		logger.Sync()
	}, nil
}

// fail reports err and returns the exit code for its kind.
func (m *meta) fail(what string, err error) int {
	m.ui.Error(fmt.Sprintf("Error %s: %s", what, err))
	switch {
	case rpcerr.IsConnection(err):
		return exitConnection
	case rpcerr.IsInvalidState(err):
		return exitInvalidState
	case rpcerr.IsServer(err):
		return exitServer
	case rpcerr.IsProtocol(err):
		return exitProtocol
	}
	return exitError
}

// usage renders a command's help text followed by its flags.
func usage(text string, fs *flag.FlagSet) string {
	var b bytes.Buffer
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n\nOptions:\n\n")
	fs.VisitAll(func(f *flag.Flag) {
		fmt.Fprintf(&b, "  -%s\n      %s\n", f.Name, f.Usage)
	})
	return strings.TrimRight(b.String(), "\n")
}

// uiWriter sends flag parse errors to the UI.
type uiWriter struct {
	ui cli.Ui
}

func (w *uiWriter) Write(p []byte) (int, error) {
	w.ui.Error(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
