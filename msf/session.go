package msf

import (
	"context"
	"msfrpc/catalog"
	"msfrpc/client"
	"strconv"

	"github.com/pkg/errors"
)

// Sessions wraps the session.* namespace. Shell and Meterpreter return
// handles bound to one session id.
type Sessions struct {
	c *client.Client
}

// SessionInfo describes one open session as listed by session.list.
type SessionInfo struct {
	Type        string `msgpack:"type" codec:"type" json:"type"`
	TunnelLocal string `msgpack:"tunnel_local" codec:"tunnel_local" json:"tunnel_local"`
	TunnelPeer  string `msgpack:"tunnel_peer" codec:"tunnel_peer" json:"tunnel_peer"`
	ViaExploit  string `msgpack:"via_exploit" codec:"via_exploit" json:"via_exploit"`
	ViaPayload  string `msgpack:"via_payload" codec:"via_payload" json:"via_payload"`
	Desc        string `msgpack:"desc" codec:"desc" json:"desc"`
	Info        string `msgpack:"info" codec:"info" json:"info"`
	Workspace   string `msgpack:"workspace" codec:"workspace" json:"workspace"`
	SessionHost string `msgpack:"session_host" codec:"session_host" json:"session_host"`
	SessionPort int    `msgpack:"session_port" codec:"session_port" json:"session_port"`
	TargetHost  string `msgpack:"target_host" codec:"target_host" json:"target_host"`
	Username    string `msgpack:"username" codec:"username" json:"username"`
	UUID        string `msgpack:"uuid" codec:"uuid" json:"uuid"`
	ExploitUUID string `msgpack:"exploit_uuid" codec:"exploit_uuid" json:"exploit_uuid"`
	Routes      string `msgpack:"routes" codec:"routes" json:"routes"`
	Arch        string `msgpack:"arch" codec:"arch" json:"arch"`
	Platform    string `msgpack:"platform,omitempty" codec:"platform,omitempty" json:"platform,omitempty"`
}

// RingOutput is a chunk of session output and the sequence number to read from next.
type RingOutput struct {
	Seq  int    `msgpack:"seq" codec:"seq" json:"seq"`
	Data string `msgpack:"data" codec:"data" json:"data"`
}

type writeCountReply struct {
	WriteCount string `msgpack:"write_count" codec:"write_count" json:"write_count"`
}

type dataReply struct {
	Data string `msgpack:"data" codec:"data" json:"data"`
}

type seqReply struct {
	Seq int `msgpack:"seq" codec:"seq" json:"seq"`
}

// List returns the open sessions keyed by session id.
func (s *Sessions) List(ctx context.Context) (map[int]SessionInfo, error) {
	var reply map[int]SessionInfo
	if err := s.c.Call(ctx, catalog.SessionList, &reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *Sessions) Stop(ctx context.Context, id string) error {
	return status(ctx, s.c, catalog.SessionStop, id)
}

// ShellRead reads shell output. With a read pointer it reads from that
// sequence number instead of the session's current position.
func (s *Sessions) ShellRead(ctx context.Context, id string, readPointer ...int) (*RingOutput, error) {
	return s.ring(ctx, catalog.SessionShellRead, id, readPointer)
}

// ShellWrite writes to a shell session and returns the number of bytes written.
func (s *Sessions) ShellWrite(ctx context.Context, id, data string) (int, error) {
	return s.write(ctx, catalog.SessionShellWrite, id, data)
}

// ShellUpgrade upgrades a shell session to Meterpreter, connecting back to lhost:lport.
func (s *Sessions) ShellUpgrade(ctx context.Context, id, lhost string, lport int) error {
	return status(ctx, s.c, catalog.SessionShellUpgrade, id, lhost, lport)
}

func (s *Sessions) MeterpreterRead(ctx context.Context, id string) (string, error) {
	var reply dataReply
	if err := s.c.Call(ctx, catalog.SessionMeterpreterRead, &reply, id); err != nil {
		return "", err
	}
	return reply.Data, nil
}

func (s *Sessions) MeterpreterWrite(ctx context.Context, id, data string) error {
	return status(ctx, s.c, catalog.SessionMeterpreterWrite, id, data)
}

// MeterpreterRunSingle runs one Meterpreter command; its output arrives via MeterpreterRead.
func (s *Sessions) MeterpreterRunSingle(ctx context.Context, id, command string) error {
	return status(ctx, s.c, catalog.SessionMeterpreterRunSingle, id, command)
}

func (s *Sessions) MeterpreterScript(ctx context.Context, id, script string) error {
	return status(ctx, s.c, catalog.SessionMeterpreterScript, id, script)
}

func (s *Sessions) MeterpreterDetach(ctx context.Context, id string) error {
	return status(ctx, s.c, catalog.SessionMeterpreterDetach, id)
}

func (s *Sessions) MeterpreterKill(ctx context.Context, id string) error {
	return status(ctx, s.c, catalog.SessionMeterpreterKill, id)
}

func (s *Sessions) MeterpreterTabs(ctx context.Context, id, line string) ([]string, error) {
	var reply tabsReply
	if err := s.c.Call(ctx, catalog.SessionMeterpreterTabs, &reply, id, line); err != nil {
		return nil, err
	}
	return reply.Tabs, nil
}

// CompatibleModules lists the post modules that can run against the session.
func (s *Sessions) CompatibleModules(ctx context.Context, id string) ([]string, error) {
	var reply listReply
	if err := s.c.Call(ctx, catalog.SessionCompatibleModules, &reply, id); err != nil {
		return nil, err
	}
	return reply.Modules, nil
}

func (s *Sessions) RingRead(ctx context.Context, id string, readPointer ...int) (*RingOutput, error) {
	return s.ring(ctx, catalog.SessionRingRead, id, readPointer)
}

func (s *Sessions) RingPut(ctx context.Context, id, data string) (int, error) {
	return s.write(ctx, catalog.SessionRingPut, id, data)
}

// RingLast returns the last sequence number in the session's output ring.
func (s *Sessions) RingLast(ctx context.Context, id string) (int, error) {
	var reply seqReply
	if err := s.c.Call(ctx, catalog.SessionRingLast, &reply, id); err != nil {
		return 0, err
	}
	return reply.Seq, nil
}

func (s *Sessions) RingClear(ctx context.Context, id string) error {
	return status(ctx, s.c, catalog.SessionRingClear, id)
}

func (s *Sessions) ring(ctx context.Context, method, id string, readPointer []int) (*RingOutput, error) {
	args := []any{id}
	if len(readPointer) > 0 {
		args = append(args, readPointer[0])
	}
	var reply RingOutput
	if err := s.c.Call(ctx, method, &reply, args...); err != nil {
		return nil, err
	}
	return &reply, nil
}

// write calls a method whose reply reports the byte count as a decimal string.
func (s *Sessions) write(ctx context.Context, method, id, data string) (int, error) {
	var reply writeCountReply
	if err := s.c.Call(ctx, method, &reply, id, data); err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(reply.WriteCount)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: write_count %q", method, reply.WriteCount)
	}
	return n, nil
}

// Shell returns a handle on a shell session.
func (s *Sessions) Shell(id string) *Shell {
	return &Shell{s: s, ID: id}
}

// Meterpreter returns a handle on a Meterpreter session.
func (s *Sessions) Meterpreter(id string) *Meterpreter {
	return &Meterpreter{s: s, ID: id}
}

type Shell struct {
	ID string
	s  *Sessions
}

func (h *Shell) Read(ctx context.Context) (*RingOutput, error) {
	return h.s.ShellRead(ctx, h.ID)
}

// ReadFrom reads output starting at sequence number seq.
func (h *Shell) ReadFrom(ctx context.Context, seq int) (*RingOutput, error) {
	return h.s.ShellRead(ctx, h.ID, seq)
}

func (h *Shell) Write(ctx context.Context, data string) (int, error) {
	return h.s.ShellWrite(ctx, h.ID, data)
}

func (h *Shell) Upgrade(ctx context.Context, lhost string, lport int) error {
	return h.s.ShellUpgrade(ctx, h.ID, lhost, lport)
}

func (h *Shell) Stop(ctx context.Context) error {
	return h.s.Stop(ctx, h.ID)
}

type Meterpreter struct {
	ID string
	s  *Sessions
}

func (h *Meterpreter) Read(ctx context.Context) (string, error) {
	return h.s.MeterpreterRead(ctx, h.ID)
}

func (h *Meterpreter) Write(ctx context.Context, data string) error {
	return h.s.MeterpreterWrite(ctx, h.ID, data)
}

func (h *Meterpreter) RunSingle(ctx context.Context, command string) error {
	return h.s.MeterpreterRunSingle(ctx, h.ID, command)
}

func (h *Meterpreter) Script(ctx context.Context, script string) error {
	return h.s.MeterpreterScript(ctx, h.ID, script)
}

func (h *Meterpreter) Tabs(ctx context.Context, line string) ([]string, error) {
	return h.s.MeterpreterTabs(ctx, h.ID, line)
}

func (h *Meterpreter) Detach(ctx context.Context) error {
	return h.s.MeterpreterDetach(ctx, h.ID)
}

func (h *Meterpreter) Kill(ctx context.Context) error {
	return h.s.MeterpreterKill(ctx, h.ID)
}
