// Package sqlstore implements coordinator.SessionStore on GORM, with MySQL
// for shared deployments and SQLite for single hosts and tests.
package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/AltairaLabs/compute-sessions/internal/coordinator"
	"github.com/AltairaLabs/compute-sessions/internal/coordinator/config"
)

// Open connects to the database named by cfg.Driver (mysql or sqlite)
func Open(cfg config.StoreConfig) (*gorm.DB, error) {
	var dialect gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case config.StoreMySQL:
		dialect = mysql.Open(cfg.DSN)
	case config.StoreSQLite:
		dialect = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("dialector(%s) not supported", cfg.Driver)
	}

	gormConfig := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: cfg.TablePrefix,
		},
		Logger: logger.Default.LogMode(logger.Silent),
	}
	db, err := gorm.Open(dialect, gormConfig)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", cfg.Driver)
	}
	if cfg.Debug {
		db = db.Debug()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	if cfg.MaxOpenConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	}
	if cfg.Driver == config.StoreMySQL {
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return db, nil
}

// Store implements coordinator.SessionStore
type Store struct {
	db *gorm.DB
}

// New migrates the schema and returns a store over db
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&sessionModel{}, &cellModel{}, &outputMsgModel{}); err != nil {
		return nil, errors.Wrap(err, "migrate session schema")
	}
	return &Store{db: db}, nil
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), coordinator.ErrNotFound)
	}
	return errors.Wrapf(err, format, args...)
}

func sessionExists(tx *gorm.DB, id int) error {
	var m sessionModel
	if err := tx.Select("id").Where("id = ?", id).Take(&m).Error; err != nil {
		return notFound(err, "session %d", id)
	}
	return nil
}

// CreateSession inserts a session row
func (s *Store) CreateSession(ctx context.Context, session *coordinator.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	if err := s.db.WithContext(ctx).Create(fromSession(session)).Error; err != nil {
		return errors.Wrapf(err, "create session %d", session.ID)
	}
	return nil
}

// GetSession loads a session row
func (s *Store) GetSession(ctx context.Context, id int) (*coordinator.Session, error) {
	var m sessionModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error; err != nil {
		return nil, notFound(err, "session %d", id)
	}
	return m.toSession(), nil
}

// UpdateSession writes the non-nil fields of update
func (s *Store) UpdateSession(ctx context.Context, id int, update coordinator.SessionUpdate) error {
	fields := map[string]interface{}{}
	if update.Status != nil {
		fields["status"] = string(*update.Status)
	}
	if update.NextExecID != nil {
		fields["next_exec_id"] = *update.NextExecID
	}
	if update.LastActiveExecID != nil {
		fields["last_active_exec_id"] = *update.LastActiveExecID
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := sessionExists(tx, id); err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		if err := tx.Model(&sessionModel{}).Where("id = ?", id).Updates(fields).Error; err != nil {
			return errors.Wrapf(err, "update session %d", id)
		}
		return nil
	})
}

// DeleteSession removes a session with its cells and output
func (s *Store) DeleteSession(ctx context.Context, id int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&outputMsgModel{}).Error; err != nil {
			return errors.Wrapf(err, "delete output of session %d", id)
		}
		if err := tx.Where("session_id = ?", id).Delete(&cellModel{}).Error; err != nil {
			return errors.Wrapf(err, "delete cells of session %d", id)
		}
		res := tx.Where("id = ?", id).Delete(&sessionModel{})
		if res.Error != nil {
			return errors.Wrapf(res.Error, "delete session %d", id)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("session %d: %w", id, coordinator.ErrNotFound)
		}
		return nil
	})
}

// ListSessions returns all sessions ordered by id
func (s *Store) ListSessions(ctx context.Context) ([]*coordinator.Session, error) {
	var rows []sessionModel
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	result := make([]*coordinator.Session, len(rows))
	for i := range rows {
		result[i] = rows[i].toSession()
	}
	return result, nil
}

// CreateCell inserts a cell row
func (s *Store) CreateCell(ctx context.Context, sessionID, execID int, code string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := sessionExists(tx, sessionID); err != nil {
			return err
		}
		if err := tx.Create(&cellModel{SessionID: sessionID, ExecID: execID, Code: code}).Error; err != nil {
			return errors.Wrapf(err, "create cell %d of session %d", execID, sessionID)
		}
		err := tx.Model(&sessionModel{}).
			Where("id = ? AND next_exec_id <= ?", sessionID, execID).
			Update("next_exec_id", execID+1).Error
		return errors.Wrapf(err, "advance next exec id of session %d", sessionID)
	})
}

// AppendOutput inserts the next output row of a cell. The cell row is locked
// so concurrent appends get consecutive numbers.
func (s *Store) AppendOutput(
	ctx context.Context,
	sessionID, execID int,
	msg coordinator.OutputMessage,
) (coordinator.OutputMessage, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cell cellModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ? AND exec_id = ?", sessionID, execID).
			Take(&cell).Error
		if err != nil {
			return notFound(err, "cell %d of session %d", execID, sessionID)
		}

		var count int64
		if err := tx.Model(&outputMsgModel{}).
			Where("session_id = ? AND exec_id = ?", sessionID, execID).
			Count(&count).Error; err != nil {
			return errors.Wrapf(err, "count output of cell %d", execID)
		}

		msg.Number = int(count)
		row := &outputMsgModel{
			SessionID: sessionID,
			ExecID:    execID,
			Number:    msg.Number,
			Kind:      string(msg.Kind),
			Output:    msg.Payload,
			Done:      msg.Done,
		}
		if err := tx.Create(row).Error; err != nil {
			return errors.WithMessagef(err, "append output %d to cell %d", msg.Number, execID)
		}
		return nil
	})
	if err != nil {
		return coordinator.OutputMessage{}, err
	}
	return msg, nil
}

// GetCellsAfter returns the cells with exec_id > execID in exec_id order
func (s *Store) GetCellsAfter(ctx context.Context, sessionID, execID int) ([]*coordinator.Cell, error) {
	return s.cells(ctx, sessionID, execID)
}

// GetCells returns every cell of the session in exec_id order
func (s *Store) GetCells(ctx context.Context, sessionID int) ([]*coordinator.Cell, error) {
	return s.cells(ctx, sessionID, coordinator.NoExecID)
}

func (s *Store) cells(ctx context.Context, sessionID, afterExecID int) ([]*coordinator.Cell, error) {
	db := s.db.WithContext(ctx)
	if err := sessionExists(db, sessionID); err != nil {
		return nil, err
	}

	var rows []cellModel
	if err := db.Where("session_id = ? AND exec_id > ?", sessionID, afterExecID).
		Order("exec_id").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "load cells of session %d", sessionID)
	}

	var msgs []outputMsgModel
	if err := db.Where("session_id = ? AND exec_id > ?", sessionID, afterExecID).
		Order("exec_id").Order("number").Find(&msgs).Error; err != nil {
		return nil, errors.Wrapf(err, "load output of session %d", sessionID)
	}

	byExec := make(map[int][]coordinator.OutputMessage, len(rows))
	for i := range msgs {
		byExec[msgs[i].ExecID] = append(byExec[msgs[i].ExecID], msgs[i].toMessage())
	}

	result := make([]*coordinator.Cell, len(rows))
	for i, row := range rows {
		out := byExec[row.ExecID]
		if out == nil {
			out = []coordinator.OutputMessage{}
		}
		result[i] = &coordinator.Cell{
			SessionID: row.SessionID,
			ExecID:    row.ExecID,
			Code:      row.Code,
			Output:    out,
		}
	}
	return result, nil
}
