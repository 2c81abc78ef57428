package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/cli"
	"github.com/ryanuber/columnize"
)

type versionCmd struct {
	meta
	flags *flag.FlagSet
}

func newVersionCmd(ui cli.Ui) *versionCmd {
	c := &versionCmd{meta: meta{ui: ui}}
	c.flags = c.flagSet("version")
	return c
}

func (c *versionCmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return exitError
	}
	ctx := context.Background()
	rpc, done, err := c.connect(ctx)
	if err != nil {
		return c.fail("connecting", err)
	}
	defer done()

	v, err := rpc.Core.Version(ctx)
	if err != nil {
		return c.fail("reading version", err)
	}
	c.ui.Output(columnize.SimpleFormat([]string{
		"Framework | " + v.Version,
		"Ruby | " + v.Ruby,
		"API | " + v.API,
	}))
	return exitOK
}

func (c *versionCmd) Synopsis() string { return "Prints the framework version of the server" }
func (c *versionCmd) Help() string {
	return usage(`
Usage: msfrpc version [options]

  Logs in and prints the Metasploit Framework, Ruby and RPC API versions.`, c.flags)
}

type jobsCmd struct {
	meta
	flags *flag.FlagSet
}

func newJobsCmd(ui cli.Ui) *jobsCmd {
	c := &jobsCmd{meta: meta{ui: ui}}
	c.flags = c.flagSet("jobs")
	return c
}

func (c *jobsCmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return exitError
	}
	ctx := context.Background()
	rpc, done, err := c.connect(ctx)
	if err != nil {
		return c.fail("connecting", err)
	}
	defer done()

	jobs, err := rpc.Jobs.List(ctx)
	if err != nil {
		return c.fail("listing jobs", err)
	}
	if len(jobs) == 0 {
		c.ui.Output("No active jobs.")
		return exitOK
	}
	ids := make([]string, 0, len(jobs))
	for id := range jobs {
		ids = append(ids, id)
	}
	sortNumeric(ids)
	lines := []string{"ID | Name"}
	for _, id := range ids {
		lines = append(lines, id+" | "+jobs[id])
	}
	c.ui.Output(columnize.SimpleFormat(lines))
	return exitOK
}

func (c *jobsCmd) Synopsis() string { return "Lists running jobs" }
func (c *jobsCmd) Help() string {
	return usage(`
Usage: msfrpc jobs [options]

  Lists the jobs running on the server.`, c.flags)
}

type jobStopCmd struct {
	meta
	flags *flag.FlagSet
}

func newJobStopCmd(ui cli.Ui) *jobStopCmd {
	c := &jobStopCmd{meta: meta{ui: ui}}
	c.flags = c.flagSet("jobs stop")
	return c
}

func (c *jobStopCmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return exitError
	}
	if c.flags.NArg() != 1 {
		c.ui.Error("This command takes one argument: <job id>")
		return exitError
	}
	ctx := context.Background()
	rpc, done, err := c.connect(ctx)
	if err != nil {
		return c.fail("connecting", err)
	}
	defer done()

	id := c.flags.Arg(0)
	if err := rpc.Jobs.Stop(ctx, id); err != nil {
		return c.fail("stopping job "+id, err)
	}
	c.ui.Output("Stopped job " + id)
	return exitOK
}

func (c *jobStopCmd) Synopsis() string { return "Stops a job" }
func (c *jobStopCmd) Help() string {
	return usage(`
Usage: msfrpc jobs stop [options] <job id>`, c.flags)
}

type sessionsCmd struct {
	meta
	flags *flag.FlagSet
}

func newSessionsCmd(ui cli.Ui) *sessionsCmd {
	c := &sessionsCmd{meta: meta{ui: ui}}
	c.flags = c.flagSet("sessions")
	return c
}

func (c *sessionsCmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return exitError
	}
	ctx := context.Background()
	rpc, done, err := c.connect(ctx)
	if err != nil {
		return c.fail("connecting", err)
	}
	defer done()

	sessions, err := rpc.Sessions.List(ctx)
	if err != nil {
		return c.fail("listing sessions", err)
	}
	if len(sessions) == 0 {
		c.ui.Output("No active sessions.")
		return exitOK
	}
	ids := make([]int, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	lines := []string{"ID | Type | Peer | Via | Info"}
	for _, id := range ids {
		s := sessions[id]
		lines = append(lines, fmt.Sprintf("%d | %s | %s | %s | %s", id, s.Type, s.TunnelPeer, s.ViaExploit, s.Info))
	}
	c.ui.Output(columnize.SimpleFormat(lines))
	return exitOK
}

func (c *sessionsCmd) Synopsis() string { return "Lists open sessions" }
func (c *sessionsCmd) Help() string {
	return usage(`
Usage: msfrpc sessions [options]`, c.flags)
}

type modulesCmd struct {
	meta
	flags *flag.FlagSet
}

func newModulesCmd(ui cli.Ui) *modulesCmd {
	c := &modulesCmd{meta: meta{ui: ui}}
	c.flags = c.flagSet("modules")
	return c
}

func (c *modulesCmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return exitError
	}
	ctx := context.Background()
	rpc, done, err := c.connect(ctx)
	if err != nil {
		return c.fail("connecting", err)
	}
	defer done()

	if c.flags.NArg() == 0 {
		stats, err := rpc.Core.ModuleStats(ctx)
		if err != nil {
			return c.fail("reading module stats", err)
		}
		c.ui.Output(columnize.SimpleFormat([]string{
			"Type | Count",
			"exploit | " + strconv.Itoa(stats.Exploits),
			"auxiliary | " + strconv.Itoa(stats.Auxiliary),
			"post | " + strconv.Itoa(stats.Post),
			"payload | " + strconv.Itoa(stats.Payloads),
			"encoder | " + strconv.Itoa(stats.Encoders),
			"nop | " + strconv.Itoa(stats.Nops),
			"evasion | " + strconv.Itoa(stats.Evasion),
		}))
		return exitOK
	}

	kind := c.flags.Arg(0)
	all, err := rpc.Modules.All(ctx)
	if err != nil {
		return c.fail("listing modules", err)
	}
	names, ok := all[kind]
	if !ok {
		c.ui.Error(fmt.Sprintf("Unknown module type %q", kind))
		return exitError
	}
	c.ui.Output(strings.Join(names, "\n"))
	return exitOK
}

func (c *modulesCmd) Synopsis() string { return "Counts or lists modules" }
func (c *modulesCmd) Help() string {
	return usage(`
Usage: msfrpc modules [options] [type]

  Without a type, prints the module count per type. With one of exploit,
  auxiliary, post, payload, encoder, nop or evasion, lists those modules.`, c.flags)
}

type searchCmd struct {
	meta
	flags *flag.FlagSet
}

func newSearchCmd(ui cli.Ui) *searchCmd {
	c := &searchCmd{meta: meta{ui: ui}}
	c.flags = c.flagSet("search")
	return c
}

func (c *searchCmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return exitError
	}
	if c.flags.NArg() == 0 {
		c.ui.Error("This command takes a search query")
		return exitError
	}
	ctx := context.Background()
	rpc, done, err := c.connect(ctx)
	if err != nil {
		return c.fail("connecting", err)
	}
	defer done()

	hits, err := rpc.Modules.Search(ctx, strings.Join(c.flags.Args(), " "))
	if err != nil {
		return c.fail("searching", err)
	}
	lines := []string{"Module | Rank | Disclosed | Name"}
	for _, h := range hits {
		lines = append(lines, fmt.Sprintf("%s | %s | %s | %s", h.Fullname, h.Rank, h.DisclosureDate, h.Name))
	}
	c.ui.Output(columnize.SimpleFormat(lines))
	return exitOK
}

func (c *searchCmd) Synopsis() string { return "Searches modules" }
func (c *searchCmd) Help() string {
	return usage(`
Usage: msfrpc search [options] <query>

  Uses msfconsole search syntax, e.g. "type:exploit name:smb".`, c.flags)
}

type consoleCmd struct {
	meta
	flags *flag.FlagSet
	wait  time.Duration
}

func newConsoleCmd(ui cli.Ui) *consoleCmd {
	c := &consoleCmd{meta: meta{ui: ui}}
	c.flags = c.flagSet("console")
	c.flags.DurationVar(&c.wait, "wait", 30*time.Second, "How long to wait for the command to finish.")
	return c
}

func (c *consoleCmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return exitError
	}
	if c.flags.NArg() == 0 {
		c.ui.Error("This command takes a console command, e.g. \"version\"")
		return exitError
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.wait)
	defer cancel()
	rpc, done, err := c.connect(ctx)
	if err != nil {
		return c.fail("connecting", err)
	}
	defer done()

	con, err := rpc.Consoles.Create(ctx, nil)
	if err != nil {
		return c.fail("creating console", err)
	}
	defer rpc.Consoles.Destroy(context.Background(), con.ID)

	// drop the banner
	if _, err := rpc.Consoles.Read(ctx, con.ID); err != nil {
		return c.fail("reading console", err)
	}
	if _, err := rpc.Consoles.Write(ctx, con.ID, strings.Join(c.flags.Args(), " ")+"\n"); err != nil {
		return c.fail("writing console", err)
	}

	var out strings.Builder
	for {
		chunk, err := rpc.Consoles.Read(ctx, con.ID)
		if err != nil {
			return c.fail("reading console", err)
		}
		out.WriteString(chunk.Data)
		if !chunk.Busy {
			break
		}
		select {
		case <-ctx.Done():
			c.ui.Output(out.String())
			c.ui.Error("Timed out waiting for the command to finish")
			return exitConnection
		case <-time.After(250 * time.Millisecond):
		}
	}
	c.ui.Output(strings.TrimRight(out.String(), "\n"))
	return exitOK
}

func (c *consoleCmd) Synopsis() string { return "Runs one msfconsole command" }
func (c *consoleCmd) Help() string {
	return usage(`
Usage: msfrpc console [options] <command...>

  Creates a console, runs the command, prints its output once the console
  is no longer busy, and destroys the console.`, c.flags)
}

type executeCmd struct {
	meta
	flags *flag.FlagSet
}

func newExecuteCmd(ui cli.Ui) *executeCmd {
	c := &executeCmd{meta: meta{ui: ui}}
	c.flags = c.flagSet("execute")
	return c
}

func (c *executeCmd) Run(args []string) int {
	if err := c.flags.Parse(args); err != nil {
		return exitError
	}
	if c.flags.NArg() < 2 {
		c.ui.Error("This command takes <type> <module> [KEY=VALUE...]")
		return exitError
	}
	opts, err := parseOptions(c.flags.Args()[2:])
	if err != nil {
		c.ui.Error(err.Error())
		return exitError
	}
	ctx := context.Background()
	rpc, done, err := c.connect(ctx)
	if err != nil {
		return c.fail("connecting", err)
	}
	defer done()

	res, err := rpc.Modules.Execute(ctx, c.flags.Arg(0), c.flags.Arg(1), opts)
	if err != nil {
		return c.fail("executing module", err)
	}
	if res.Payload != "" {
		c.ui.Output(res.Payload)
		return exitOK
	}
	c.ui.Output(fmt.Sprintf("Started job %d (uuid %s)", res.JobID, res.UUID))
	return exitOK
}

func (c *executeCmd) Synopsis() string { return "Runs a module" }
func (c *executeCmd) Help() string {
	return usage(`
Usage: msfrpc execute [options] <type> <module> [KEY=VALUE...]

  Example: msfrpc execute exploit multi/handler PAYLOAD=generic/shell_reverse_tcp LPORT=4444`, c.flags)
}

// parseOptions turns KEY=VALUE pairs into a datastore map. Values that look
// like integers or booleans are sent as such.
func parseOptions(pairs []string) (map[string]any, error) {
	opts := make(map[string]any, len(pairs))
	for _, p := range pairs {
		key, val, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("option %q is not KEY=VALUE", p)
		}
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			opts[key] = n
		} else if b, err := strconv.ParseBool(val); err == nil {
			opts[key] = b
		} else {
			opts[key] = val
		}
	}
	return opts, nil
}

// sortNumeric orders decimal ids numerically, falling back to string order.
func sortNumeric(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA != nil || errB != nil {
			return ids[i] < ids[j]
		}
		return a < b
	})
}
