package config

// MCP tool names exposed by the coordinator
const (
	// ToolSessionNew provisions a new compute session
	ToolSessionNew = "session_new"
	// ToolSessionExecute submits code to a session
	ToolSessionExecute = "session_execute"
	// ToolSessionCells lists a session's cells and output
	ToolSessionCells = "session_cells"
	// ToolSessionInterrupt interrupts the running cell
	ToolSessionInterrupt = "session_interrupt"
	// ToolSessionKill kills the session's process
	ToolSessionKill = "session_kill"
	// ToolSessionList lists all sessions
	ToolSessionList = "session_list"
)

// AllTools returns a slice of all available tool names
func AllTools() []string {
	return []string{
		ToolSessionNew,
		ToolSessionExecute,
		ToolSessionCells,
		ToolSessionInterrupt,
		ToolSessionKill,
		ToolSessionList,
	}
}
