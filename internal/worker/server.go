// Package worker exposes a compute backend over gRPC so coordinators on other
// hosts can run sessions here.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AltairaLabs/compute-sessions/internal/types"
)

// Backend is the compute backend the worker serves
type Backend interface {
	Spawn(ctx context.Context, req types.SpawnRequest) (types.Handle, error)
	Dispatch(ctx context.Context, h types.Handle, cells []types.CellRequest) error
	Signal(ctx context.Context, h types.Handle, sig types.Signal) error
	Frames(ctx context.Context, h types.Handle) (<-chan types.Frame, error)
}

// WorkerServer implements ComputeWorkerServer on top of a Backend
type WorkerServer struct {
	workerID string
	backend  Backend
	logger   *slog.Logger
}

// NewWorkerServer creates a new worker server
func NewWorkerServer(workerID string, backend Backend, logger *slog.Logger) *WorkerServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerServer{
		workerID: workerID,
		backend:  backend,
		logger:   logger.With("worker_id", workerID),
	}
}

// Spawn implements ComputeWorker.Spawn
func (ws *WorkerServer) Spawn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	spawn, err := DecodeSpawnRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	h, err := ws.backend.Spawn(ctx, spawn)
	if err != nil {
		ws.logger.Error("Spawn failed", "session_id", spawn.SessionID, "error", err)
		return nil, status.Errorf(codes.Unavailable, "spawn failed: %v", err)
	}
	if !h.Spawned() {
		return nil, status.Error(codes.Unavailable, "spawn failed")
	}

	ws.logger.Info("Process spawned", "session_id", spawn.SessionID, "pid", h.PID)
	return EncodeHandle(h), nil
}

// Dispatch implements ComputeWorker.Dispatch
func (ws *WorkerServer) Dispatch(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	h, cells, err := DecodeDispatch(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := ws.backend.Dispatch(ctx, h, cells); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Signal implements ComputeWorker.Signal
func (ws *WorkerServer) Signal(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	h, sig, err := DecodeSignal(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := ws.backend.Signal(ctx, h, sig); err != nil {
		return nil, toStatus(err)
	}
	ws.logger.Info("Signal delivered", "pid", h.PID, "signal", sig)
	return &emptypb.Empty{}, nil
}

// Frames implements ComputeWorker.Frames. The stream ends when the process exits.
func (ws *WorkerServer) Frames(req *structpb.Struct, stream grpc.ServerStream) error {
	h, err := DecodeHandle(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	ctx := stream.Context()
	frames, err := ws.backend.Frames(ctx, h)
	if err != nil {
		return toStatus(err)
	}

	for {
		select {
		case <-ctx.Done():
			return status.FromContextError(ctx.Err()).Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(EncodeFrame(f)); err != nil {
				return err
			}
		}
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, types.ErrUnknownProcess):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
