// Command msfrpc talks to a Metasploit RPC server from the shell, and can
// stand up a local msfrpcd double for development.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/cli"
)

const version = "0.3.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ui := &cli.BasicUi{Writer: stdout, ErrorWriter: stderr}
	c := &cli.CLI{
		Name:     "msfrpc",
		Version:  version,
		Args:     args,
		Commands: commands(ui),
		HelpFunc: cli.BasicHelpFunc("msfrpc"),
	}
	code, err := c.Run()
	if err != nil {
		fmt.Fprintf(stderr, "Error executing CLI: %s\n", err)
		return 1
	}
	return code
}

func commands(ui cli.Ui) map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"version":   func() (cli.Command, error) { return newVersionCmd(ui), nil },
		"jobs":      func() (cli.Command, error) { return newJobsCmd(ui), nil },
		"jobs stop": func() (cli.Command, error) { return newJobStopCmd(ui), nil },
		"sessions":  func() (cli.Command, error) { return newSessionsCmd(ui), nil },
		"modules":   func() (cli.Command, error) { return newModulesCmd(ui), nil },
		"search":    func() (cli.Command, error) { return newSearchCmd(ui), nil },
		"console":   func() (cli.Command, error) { return newConsoleCmd(ui), nil },
		"execute":   func() (cli.Command, error) { return newExecuteCmd(ui), nil },
		"serve":     func() (cli.Command, error) { return newServeCmd(ui), nil },
	}
}
