package sqlstore

import (
	"time"

	"gorm.io/gorm/schema"

	"github.com/AltairaLabs/compute-sessions/internal/coordinator"
)

// sessionModel maps the sessions table
type sessionModel struct {
	ID               int       `gorm:"column:id;primaryKey;autoIncrement:false"`
	PID              int       `gorm:"column:pid;not null"`
	Path             string    `gorm:"column:path;type:varchar(1024)"`
	URL              string    `gorm:"column:url;type:varchar(1024)"`
	Status           string    `gorm:"column:status;type:varchar(16);not null"`
	NextExecID       int       `gorm:"column:next_exec_id;not null"`
	LastActiveExecID int       `gorm:"column:last_active_exec_id;not null"`
	StartTime        time.Time `gorm:"column:start_time"`
}

func (sessionModel) TableName(namer schema.Namer) string {
	return namer.TableName("Session")
}

// cellModel maps the cells table
type cellModel struct {
	SessionID int    `gorm:"column:session_id;primaryKey;autoIncrement:false"`
	ExecID    int    `gorm:"column:exec_id;primaryKey;autoIncrement:false"`
	Code      string `gorm:"column:code;type:text"`
}

func (cellModel) TableName(namer schema.Namer) string {
	return namer.TableName("Cell")
}

// outputMsgModel maps the output_msgs table
type outputMsgModel struct {
	SessionID int    `gorm:"column:session_id;primaryKey;autoIncrement:false"`
	ExecID    int    `gorm:"column:exec_id;primaryKey;autoIncrement:false"`
	Number    int    `gorm:"column:number;primaryKey;autoIncrement:false"`
	Kind      string `gorm:"column:kind;type:varchar(16);not null"`
	Output    string `gorm:"column:output;type:text"`
	Done      bool   `gorm:"column:done;not null"`
}

func (outputMsgModel) TableName(namer schema.Namer) string {
	return namer.TableName("OutputMsg")
}

func fromSession(s *coordinator.Session) *sessionModel {
	return &sessionModel{
		ID:               s.ID,
		PID:              s.PID,
		Path:             s.Path,
		URL:              s.URL,
		Status:           string(s.Status),
		NextExecID:       s.NextExecID,
		LastActiveExecID: s.LastActiveExecID,
		StartTime:        s.StartTime,
	}
}

func (m *sessionModel) toSession() *coordinator.Session {
	return &coordinator.Session{
		ID:               m.ID,
		PID:              m.PID,
		Path:             m.Path,
		URL:              m.URL,
		Status:           coordinator.SessionStatus(m.Status),
		NextExecID:       m.NextExecID,
		LastActiveExecID: m.LastActiveExecID,
		StartTime:        m.StartTime,
	}
}

func (m *outputMsgModel) toMessage() coordinator.OutputMessage {
	return coordinator.OutputMessage{
		Number:  m.Number,
		Kind:    coordinator.OutputKind(m.Kind),
		Payload: m.Output,
		Done:    m.Done,
	}
}
