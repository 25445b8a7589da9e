// Package redisstore implements coordinator.SessionStore on Redis.
//
// Layout, under a configurable key prefix:
//
//	<p>:sessions              zset of session ids (score = id)
//	<p>:session:<id>          hash of session fields
//	<p>:cells:<id>            zset of exec ids (score = exec id)
//	<p>:code:<id>             hash exec id -> code
//	<p>:output:<id>:<exec>    list of JSON output messages; number = list index
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/AltairaLabs/compute-sessions/internal/coordinator"
)

// updateIfExists sets hash fields only when the hash exists
var updateIfExists = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if #ARGV > 0 then redis.call('HSET', KEYS[1], unpack(ARGV)) end
return 1
`)

// createCell stores code for a new exec id of an existing session and raises
// its next_exec_id past it. Returns 0 for an unknown session and -1 for a
// duplicate cell.
var createCell = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if redis.call('HSETNX', KEYS[2], ARGV[1], ARGV[2]) == 0 then return -1 end
redis.call('ZADD', KEYS[3], ARGV[1], ARGV[1])
local exec = tonumber(ARGV[1])
local cur = redis.call('HGET', KEYS[1], 'next_exec_id')
if not cur or tonumber(cur) <= exec then
  redis.call('HSET', KEYS[1], 'next_exec_id', exec + 1)
end
return 1
`)

// appendOutput pushes a message for an existing cell and returns the new
// list length, or 0 for an unknown cell
var appendOutput = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then return 0 end
return redis.call('RPUSH', KEYS[2], ARGV[2])
`)

// storedMessage is the list entry; the number is its index
type storedMessage struct {
	Kind    coordinator.OutputKind `json:"kind"`
	Payload string                 `json:"output"`
	Done    bool                   `json:"done,omitempty"`
}

// Store implements coordinator.SessionStore
type Store struct {
	client redis.Cmdable
	prefix string
}

// New creates a store using keys under prefix
func New(client redis.Cmdable, prefix string) *Store {
	if prefix == "" {
		prefix = "computesessions"
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) sessionsKey() string { return s.prefix + ":sessions" }

func (s *Store) sessionKey(id int) string { return fmt.Sprintf("%s:session:%d", s.prefix, id) }

func (s *Store) cellsKey(id int) string { return fmt.Sprintf("%s:cells:%d", s.prefix, id) }

func (s *Store) codeKey(id int) string { return fmt.Sprintf("%s:code:%d", s.prefix, id) }

func (s *Store) outputKey(id, execID int) string {
	return fmt.Sprintf("%s:output:%d:%d", s.prefix, id, execID)
}

func notFound(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), coordinator.ErrNotFound)
}

// CreateSession claims the id in the sessions index and writes the hash
func (s *Store) CreateSession(ctx context.Context, session *coordinator.Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}

	added, err := s.client.ZAddNX(ctx, s.sessionsKey(), redis.Z{Score: float64(session.ID), Member: session.ID}).Result()
	if err != nil {
		return errors.Wrapf(err, "index session %d", session.ID)
	}
	if added == 0 {
		return errors.Errorf("session with ID %d already exists", session.ID)
	}

	fields := map[string]interface{}{
		"pid":                 session.PID,
		"path":                session.Path,
		"url":                 session.URL,
		"status":              string(session.Status),
		"next_exec_id":        session.NextExecID,
		"last_active_exec_id": session.LastActiveExecID,
		"start_time":          session.StartTime.UTC().Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, s.sessionKey(session.ID), fields).Err(); err != nil {
		return errors.Wrapf(err, "create session %d", session.ID)
	}
	return nil
}

// GetSession reads the session hash
func (s *Store) GetSession(ctx context.Context, id int) (*coordinator.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "get session %d", id)
	}
	if len(fields) == 0 {
		return nil, notFound("session %d", id)
	}
	return parseSession(id, fields)
}

func parseSession(id int, fields map[string]string) (*coordinator.Session, error) {
	session := &coordinator.Session{
		ID:     id,
		Path:   fields["path"],
		URL:    fields["url"],
		Status: coordinator.SessionStatus(fields["status"]),
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"pid", &session.PID},
		{"next_exec_id", &session.NextExecID},
		{"last_active_exec_id", &session.LastActiveExecID},
	}
	for _, f := range ints {
		v, err := strconv.Atoi(fields[f.name])
		if err != nil {
			return nil, errors.Wrapf(err, "session %d field %s", id, f.name)
		}
		*f.dst = v
	}

	if raw := fields["start_time"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "session %d field start_time", id)
		}
		session.StartTime = t
	}
	return session, nil
}

// UpdateSession writes the non-nil fields of update
func (s *Store) UpdateSession(ctx context.Context, id int, update coordinator.SessionUpdate) error {
	var args []interface{}
	if update.Status != nil {
		args = append(args, "status", string(*update.Status))
	}
	if update.NextExecID != nil {
		args = append(args, "next_exec_id", *update.NextExecID)
	}
	if update.LastActiveExecID != nil {
		args = append(args, "last_active_exec_id", *update.LastActiveExecID)
	}

	ok, err := updateIfExists.Run(ctx, s.client, []string{s.sessionKey(id)}, args...).Int()
	if err != nil {
		return errors.Wrapf(err, "update session %d", id)
	}
	if ok == 0 {
		return notFound("session %d", id)
	}
	return nil
}

// DeleteSession removes the session with its cells and output
func (s *Store) DeleteSession(ctx context.Context, id int) error {
	execIDs, err := s.client.ZRange(ctx, s.cellsKey(id), 0, -1).Result()
	if err != nil {
		return errors.Wrapf(err, "list cells of session %d", id)
	}

	keys := []string{s.sessionKey(id), s.cellsKey(id), s.codeKey(id)}
	for _, raw := range execIDs {
		execID, err := strconv.Atoi(raw)
		if err != nil {
			return errors.Wrapf(err, "session %d cell id %q", id, raw)
		}
		keys = append(keys, s.outputKey(id, execID))
	}

	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.sessionsKey(), id)
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "delete session %d", id)
	}
	if removed.Val() == 0 {
		return notFound("session %d", id)
	}
	return nil
}

// ListSessions returns all sessions ordered by id
func (s *Store) ListSessions(ctx context.Context) ([]*coordinator.Session, error) {
	ids, err := s.client.ZRange(ctx, s.sessionsKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	if len(ids) == 0 {
		return []*coordinator.Session{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	parsed := make([]int, len(ids))
	for i, raw := range ids {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "session id %q", raw)
		}
		parsed[i] = id
		cmds[i] = pipe.HGetAll(ctx, s.sessionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "load sessions")
	}

	result := make([]*coordinator.Session, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// deleted between the index read and the load
			continue
		}
		session, err := parseSession(parsed[i], fields)
		if err != nil {
			return nil, err
		}
		result = append(result, session)
	}
	return result, nil
}

// CreateCell stores the code of a new cell and advances next_exec_id
func (s *Store) CreateCell(ctx context.Context, sessionID, execID int, code string) error {
	keys := []string{s.sessionKey(sessionID), s.codeKey(sessionID), s.cellsKey(sessionID)}
	res, err := createCell.Run(ctx, s.client, keys, execID, code).Int()
	if err != nil {
		return errors.Wrapf(err, "create cell %d of session %d", execID, sessionID)
	}
	switch res {
	case 0:
		return notFound("session %d", sessionID)
	case -1:
		return errors.Errorf("cell %d of session %d already exists", execID, sessionID)
	}
	return nil
}

// AppendOutput pushes msg onto the cell's output list
func (s *Store) AppendOutput(
	ctx context.Context,
	sessionID, execID int,
	msg coordinator.OutputMessage,
) (coordinator.OutputMessage, error) {
	data, err := json.Marshal(storedMessage{Kind: msg.Kind, Payload: msg.Payload, Done: msg.Done})
	if err != nil {
		return coordinator.OutputMessage{}, errors.Wrap(err, "encode output message")
	}

	keys := []string{s.codeKey(sessionID), s.outputKey(sessionID, execID)}
	length, err := appendOutput.Run(ctx, s.client, keys, execID, string(data)).Int()
	if err != nil {
		return coordinator.OutputMessage{}, errors.WithMessagef(err, "append output to cell %d of session %d", execID, sessionID)
	}
	if length == 0 {
		return coordinator.OutputMessage{}, notFound("cell %d of session %d", execID, sessionID)
	}

	msg.Number = length - 1
	return msg, nil
}

// GetCellsAfter returns the cells with exec_id > execID in exec_id order
func (s *Store) GetCellsAfter(ctx context.Context, sessionID, execID int) ([]*coordinator.Cell, error) {
	return s.cells(ctx, sessionID, "("+strconv.Itoa(execID))
}

// GetCells returns every cell of the session in exec_id order
func (s *Store) GetCells(ctx context.Context, sessionID int) ([]*coordinator.Cell, error) {
	return s.cells(ctx, sessionID, "-inf")
}

func (s *Store) cells(ctx context.Context, sessionID int, min string) ([]*coordinator.Cell, error) {
	exists, err := s.client.Exists(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "check session %d", sessionID)
	}
	if exists == 0 {
		return nil, notFound("session %d", sessionID)
	}

	ids, err := s.client.ZRangeByScore(ctx, s.cellsKey(sessionID), &redis.ZRangeBy{Min: min, Max: "+inf"}).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "list cells of session %d", sessionID)
	}
	if len(ids) == 0 {
		return []*coordinator.Cell{}, nil
	}

	pipe := s.client.Pipeline()
	codes := pipe.HMGet(ctx, s.codeKey(sessionID), ids...)
	outputs := make([]*redis.StringSliceCmd, len(ids))
	execIDs := make([]int, len(ids))
	for i, raw := range ids {
		execID, err := strconv.Atoi(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "session %d cell id %q", sessionID, raw)
		}
		execIDs[i] = execID
		outputs[i] = pipe.LRange(ctx, s.outputKey(sessionID, execID), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrapf(err, "load cells of session %d", sessionID)
	}

	codeVals := codes.Val()
	result := make([]*coordinator.Cell, len(ids))
	for i, execID := range execIDs {
		code, _ := codeVals[i].(string)
		cell := &coordinator.Cell{
			SessionID: sessionID,
			ExecID:    execID,
			Code:      code,
			Output:    make([]coordinator.OutputMessage, 0, len(outputs[i].Val())),
		}
		for n, raw := range outputs[i].Val() {
			var m storedMessage
			if err := json.Unmarshal([]byte(raw), &m); err != nil {
				return nil, errors.Wrapf(err, "decode output %d of cell %d", n, execID)
			}
			cell.Output = append(cell.Output, coordinator.OutputMessage{
				Number:  n,
				Kind:    m.Kind,
				Payload: m.Payload,
				Done:    m.Done,
			})
		}
		result[i] = cell
	}
	return result, nil
}
