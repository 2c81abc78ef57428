package catalog

// Method names understood by msfrpcd.
const (
	AuthLogin         = "auth.login"
	AuthLogout        = "auth.logout"
	AuthTokenAdd      = "auth.token_add"
	AuthTokenGenerate = "auth.token_generate"
	AuthTokenList     = "auth.token_list"
	AuthTokenRemove   = "auth.token_remove"

	CoreVersion       = "core.version"
	CoreModuleStats   = "core.module_stats"
	CoreReloadModules = "core.reload_modules"
	CoreAddModulePath = "core.add_module_path"
	CoreSave          = "core.save"
	CoreSetG          = "core.setg"
	CoreUnsetG        = "core.unsetg"
	CoreGetG          = "core.getg"
	CoreThreadList    = "core.thread_list"
	CoreThreadKill    = "core.thread_kill"
	CoreStop          = "core.stop"

	ConsoleCreate        = "console.create"
	ConsoleDestroy       = "console.destroy"
	ConsoleList          = "console.list"
	ConsoleWrite         = "console.write"
	ConsoleRead          = "console.read"
	ConsoleSessionDetach = "console.session_detach"
	ConsoleSessionKill   = "console.session_kill"
	ConsoleTabs          = "console.tabs"

	JobList = "job.list"
	JobInfo = "job.info"
	JobStop = "job.stop"

	SessionList                 = "session.list"
	SessionStop                 = "session.stop"
	SessionShellRead            = "session.shell_read"
	SessionShellWrite           = "session.shell_write"
	SessionShellUpgrade         = "session.shell_upgrade"
	SessionMeterpreterRead      = "session.meterpreter_read"
	SessionMeterpreterWrite     = "session.meterpreter_write"
	SessionMeterpreterRunSingle = "session.meterpreter_run_single"
	SessionMeterpreterScript    = "session.meterpreter_script"
	SessionMeterpreterDetach    = "session.meterpreter_session_detach"
	SessionMeterpreterKill      = "session.meterpreter_session_kill"
	SessionMeterpreterTabs      = "session.meterpreter_tabs"
	SessionCompatibleModules    = "session.compatible_modules"
	SessionRingRead             = "session.ring_read"
	SessionRingPut              = "session.ring_put"
	SessionRingLast             = "session.ring_last"
	SessionRingClear            = "session.ring_clear"

	ModuleExploits                 = "module.exploits"
	ModuleAuxiliary                = "module.auxiliary"
	ModulePost                     = "module.post"
	ModulePayloads                 = "module.payloads"
	ModuleEncoders                 = "module.encoders"
	ModuleNops                     = "module.nops"
	ModuleEvasion                  = "module.evasion"
	ModulePlatforms                = "module.platforms"
	ModuleEncodeFormats            = "module.encode_formats"
	ModuleInfo                     = "module.info"
	ModuleOptions                  = "module.options"
	ModuleCompatiblePayloads       = "module.compatible_payloads"
	ModuleTargetCompatiblePayloads = "module.target_compatible_payloads"
	ModuleCompatibleSessions       = "module.compatible_sessions"
	ModuleEncode                   = "module.encode"
	ModuleExecute                  = "module.execute"
	ModuleSearch                   = "module.search"
	ModuleCheck                    = "module.check"
)

func str(name string) Param      { return Param{Name: name, Kind: String} }
func integer(name string) Param  { return Param{Name: name, Kind: Int} }
func optInt(name string) Param   { return Param{Name: name, Kind: Int, Optional: true} }
func options(name string) Param  { return Param{Name: name, Kind: Map} }
func optional(name string) Param { return Param{Name: name, Kind: Map, Optional: true} }
func anyValue(name string) Param { return Param{Name: name, Kind: Any} }

// authed builds a token-bearing spec.
func authed(name string, params ...Param) Spec {
	return Spec{Name: name, Auth: true, Params: params}
}

// checked builds a token-bearing spec whose reply reports result == "success".
func checked(name string, params ...Param) Spec {
	return Spec{Name: name, Auth: true, Params: params, CheckStatus: true}
}

func metasploitSpecs() []Spec {
	return []Spec{
		// auth.login is the only call made without a token.
		{Name: AuthLogin, Params: []Param{str("username"), str("password")}, CheckStatus: true},
		checked(AuthLogout, str("logout_token")),
		checked(AuthTokenAdd, str("new_token")),
		checked(AuthTokenGenerate),
		authed(AuthTokenList),
		checked(AuthTokenRemove, str("remove_token")),

		authed(CoreVersion),
		authed(CoreModuleStats),
		authed(CoreReloadModules),
		authed(CoreAddModulePath, str("path")),
		checked(CoreSave),
		checked(CoreSetG, str("name"), anyValue("value")),
		checked(CoreUnsetG, str("name")),
		authed(CoreGetG, str("name")),
		authed(CoreThreadList),
		checked(CoreThreadKill, integer("thread_id")),
		checked(CoreStop),

		authed(ConsoleCreate, optional("options")),
		checked(ConsoleDestroy, str("console_id")),
		authed(ConsoleList),
		authed(ConsoleWrite, str("console_id"), str("data")),
		authed(ConsoleRead, str("console_id")),
		checked(ConsoleSessionDetach, str("console_id")),
		checked(ConsoleSessionKill, str("console_id")),
		authed(ConsoleTabs, str("console_id"), str("input_line")),

		authed(JobList),
		authed(JobInfo, str("job_id")),
		checked(JobStop, str("job_id")),

		authed(SessionList),
		checked(SessionStop, str("session_id")),
		authed(SessionShellRead, str("session_id"), optInt("read_pointer")),
		authed(SessionShellWrite, str("session_id"), str("data")),
		checked(SessionShellUpgrade, str("session_id"), str("lhost"), integer("lport")),
		authed(SessionMeterpreterRead, str("session_id")),
		checked(SessionMeterpreterWrite, str("session_id"), str("data")),
		checked(SessionMeterpreterRunSingle, str("session_id"), str("command")),
		checked(SessionMeterpreterScript, str("session_id"), str("script")),
		checked(SessionMeterpreterDetach, str("session_id")),
		checked(SessionMeterpreterKill, str("session_id")),
		authed(SessionMeterpreterTabs, str("session_id"), str("input_line")),
		authed(SessionCompatibleModules, str("session_id")),
		authed(SessionRingRead, str("session_id"), optInt("read_pointer")),
		authed(SessionRingPut, str("session_id"), str("data")),
		authed(SessionRingLast, str("session_id")),
		checked(SessionRingClear, str("session_id")),

		authed(ModuleExploits),
		authed(ModuleAuxiliary),
		authed(ModulePost),
		authed(ModulePayloads),
		authed(ModuleEncoders),
		authed(ModuleNops),
		authed(ModuleEvasion),
		authed(ModulePlatforms),
		authed(ModuleEncodeFormats),
		authed(ModuleInfo, str("module_type"), str("module_name")),
		authed(ModuleOptions, str("module_type"), str("module_name")),
		authed(ModuleCompatiblePayloads, str("module_name")),
		authed(ModuleTargetCompatiblePayloads, str("module_name"), integer("target")),
		authed(ModuleCompatibleSessions, str("module_name")),
		authed(ModuleEncode, str("data"), str("encoder"), options("options")),
		authed(ModuleExecute, str("module_type"), str("module_name"), options("options")),
		authed(ModuleSearch, str("query")),
		authed(ModuleCheck, str("module_type"), str("module_name"), options("options")),
	}
}
