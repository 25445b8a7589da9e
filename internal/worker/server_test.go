package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AltairaLabs/compute-sessions/internal/compute/mock"
	"github.com/AltairaLabs/compute-sessions/internal/types"
)

func TestWorkerServerSpawn(t *testing.T) {
	ctx := context.Background()
	backend := mock.NewBackend()
	ws := NewWorkerServer("worker-1", backend, nil)

	out, err := ws.Spawn(ctx, EncodeSpawnRequest(types.SpawnRequest{SessionID: 5}))
	require.NoError(t, err)
	h, err := DecodeHandle(out)
	require.NoError(t, err)
	assert.Equal(t, 100, h.PID)
	assert.Equal(t, "/tmp/mock/5", h.Path)

	backend.SpawnErr = errors.New("no capacity")
	_, err = ws.Spawn(ctx, EncodeSpawnRequest(types.SpawnRequest{SessionID: 6}))
	assert.Equal(t, codes.Unavailable, status.Code(err))

	backend.SpawnErr = nil
	backend.SpawnFailedPID = true
	_, err = ws.Spawn(ctx, EncodeSpawnRequest(types.SpawnRequest{SessionID: 7}))
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestWorkerServerErrorCodes(t *testing.T) {
	ctx := context.Background()
	ws := NewWorkerServer("worker-1", mock.NewBackend(), nil)
	unknown := types.Handle{PID: 42}

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{
			name: "spawn without session id",
			call: func() error { _, err := ws.Spawn(ctx, &structpb.Struct{}); return err },
			want: codes.InvalidArgument,
		},
		{
			name: "dispatch to unknown pid",
			call: func() error { _, err := ws.Dispatch(ctx, EncodeDispatch(unknown, nil)); return err },
			want: codes.NotFound,
		},
		{
			name: "signal with bad name",
			call: func() error {
				msg := EncodeHandle(unknown)
				msg.Fields["signal"] = structpb.NewStringValue("HUP")
				_, err := ws.Signal(ctx, msg)
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "signal unknown pid",
			call: func() error { _, err := ws.Signal(ctx, EncodeSignal(unknown, types.SignalKill)); return err },
			want: codes.NotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(tt.call()))
		})
	}
}

func TestDecodeDispatch(t *testing.T) {
	h := types.Handle{PID: 9, Path: "/w"}
	cells := []types.CellRequest{{ExecID: 0, Code: "a"}, {ExecID: 4, Code: "b"}}

	gotH, gotCells, err := DecodeDispatch(EncodeDispatch(h, cells))
	require.NoError(t, err)
	assert.Equal(t, h, gotH)
	assert.Equal(t, cells, gotCells)

	bad := EncodeHandle(h)
	bad.Fields["cells"] = structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{structpb.NewStringValue("x")}})
	_, _, err = DecodeDispatch(bad)
	assert.Error(t, err)
}
