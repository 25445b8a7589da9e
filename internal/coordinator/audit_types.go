package coordinator

import (
	"time"
)

// AuditEntry represents a logged tool invocation or its outcome
type AuditEntry struct {
	Timestamp time.Time
	SessionID int
	ToolName  string
	Arguments map[string]interface{}
	Result    string
	ErrorMsg  string
}
