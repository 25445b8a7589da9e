package worker

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AltairaLabs/compute-sessions/internal/types"
)

// Struct field names used on the wire
const (
	fieldSessionID = "session_id"
	fieldPID       = "pid"
	fieldPath      = "path"
	fieldEndpoint  = "endpoint"
	fieldCells     = "cells"
	fieldExecID    = "exec_id"
	fieldCode      = "code"
	fieldSignal    = "signal"
	fieldKind      = "kind"
	fieldPayload   = "payload"
)

func intField(s *structpb.Struct, name string) (int, error) {
	v, ok := s.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("missing field %q", name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("field %q is not a number", name)
	}
	return int(n.NumberValue), nil
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

// EncodeSpawnRequest builds the Spawn request message
func EncodeSpawnRequest(req types.SpawnRequest) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldSessionID: structpb.NewNumberValue(float64(req.SessionID)),
	}}
}

// DecodeSpawnRequest parses the Spawn request message
func DecodeSpawnRequest(s *structpb.Struct) (types.SpawnRequest, error) {
	id, err := intField(s, fieldSessionID)
	if err != nil {
		return types.SpawnRequest{}, err
	}
	return types.SpawnRequest{SessionID: id}, nil
}

// EncodeHandle builds the message carrying a process handle
func EncodeHandle(h types.Handle) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldPID:      structpb.NewNumberValue(float64(h.PID)),
		fieldPath:     structpb.NewStringValue(h.Path),
		fieldEndpoint: structpb.NewStringValue(h.Endpoint),
	}}
}

// DecodeHandle parses a process handle. Only pid is required.
func DecodeHandle(s *structpb.Struct) (types.Handle, error) {
	pid, err := intField(s, fieldPID)
	if err != nil {
		return types.Handle{PID: types.FailedPID}, err
	}
	return types.Handle{
		PID:      pid,
		Path:     stringField(s, fieldPath),
		Endpoint: stringField(s, fieldEndpoint),
	}, nil
}

// EncodeDispatch builds the Dispatch request message
func EncodeDispatch(h types.Handle, cells []types.CellRequest) *structpb.Struct {
	list := make([]*structpb.Value, len(cells))
	for i, c := range cells {
		list[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			fieldExecID: structpb.NewNumberValue(float64(c.ExecID)),
			fieldCode:   structpb.NewStringValue(c.Code),
		}})
	}
	msg := EncodeHandle(h)
	msg.Fields[fieldCells] = structpb.NewListValue(&structpb.ListValue{Values: list})
	return msg
}

// DecodeDispatch parses the Dispatch request message
func DecodeDispatch(s *structpb.Struct) (types.Handle, []types.CellRequest, error) {
	h, err := DecodeHandle(s)
	if err != nil {
		return h, nil, err
	}
	values := s.GetFields()[fieldCells].GetListValue().GetValues()
	cells := make([]types.CellRequest, 0, len(values))
	for i, v := range values {
		cs := v.GetStructValue()
		if cs == nil {
			return h, nil, fmt.Errorf("cell %d is not an object", i)
		}
		execID, err := intField(cs, fieldExecID)
		if err != nil {
			return h, nil, fmt.Errorf("cell %d: %w", i, err)
		}
		cells = append(cells, types.CellRequest{ExecID: execID, Code: stringField(cs, fieldCode)})
	}
	return h, cells, nil
}

// EncodeSignal builds the Signal request message
func EncodeSignal(h types.Handle, sig types.Signal) *structpb.Struct {
	msg := EncodeHandle(h)
	msg.Fields[fieldSignal] = structpb.NewStringValue(string(sig))
	return msg
}

// DecodeSignal parses the Signal request message
func DecodeSignal(s *structpb.Struct) (types.Handle, types.Signal, error) {
	h, err := DecodeHandle(s)
	if err != nil {
		return h, "", err
	}
	sig, err := types.ParseSignal(stringField(s, fieldSignal))
	return h, sig, err
}

// EncodeFrame builds one Frames stream message
func EncodeFrame(f types.Frame) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldExecID:  structpb.NewNumberValue(float64(f.ExecID)),
		fieldKind:    structpb.NewStringValue(string(f.Kind)),
		fieldPayload: structpb.NewStringValue(f.Payload),
	}}
}

// DecodeFrame parses one Frames stream message
func DecodeFrame(s *structpb.Struct) (types.Frame, error) {
	execID, err := intField(s, fieldExecID)
	if err != nil {
		return types.Frame{}, err
	}
	return types.Frame{
		ExecID:  execID,
		Kind:    types.FrameKind(stringField(s, fieldKind)),
		Payload: stringField(s, fieldPayload),
	}, nil
}
