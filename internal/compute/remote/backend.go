// Package remote is a compute backend that drives processes hosted by a
// compute worker over gRPC.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/AltairaLabs/compute-sessions/internal/types"
	"github.com/AltairaLabs/compute-sessions/internal/worker"
)

const frameBuffer = 64

// Backend implements the coordinator's compute backend against a worker
type Backend struct {
	conn   grpc.ClientConnInterface
	closer io.Closer
	logger *slog.Logger
}

// Dial connects to the worker at addr. Transport security defaults to
// insecure and may be overridden through opts.
func Dial(addr string, logger *slog.Logger, opts ...grpc.DialOption) (*Backend, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to worker %s: %w", addr, err)
	}
	b := New(conn, logger)
	b.closer = conn
	return b, nil
}

// New creates a backend on an existing connection
func New(conn grpc.ClientConnInterface, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{conn: conn, logger: logger}
}

// Close releases the connection opened by Dial
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// Spawn asks the worker for a new process
func (b *Backend) Spawn(ctx context.Context, req types.SpawnRequest) (types.Handle, error) {
	out := new(structpb.Struct)
	if err := b.conn.Invoke(ctx, worker.SpawnMethod, worker.EncodeSpawnRequest(req), out); err != nil {
		return types.Handle{PID: types.FailedPID}, fromStatus(err)
	}
	return worker.DecodeHandle(out)
}

// Dispatch sends a batch to the process
func (b *Backend) Dispatch(ctx context.Context, h types.Handle, cells []types.CellRequest) error {
	if err := b.conn.Invoke(ctx, worker.DispatchMethod, worker.EncodeDispatch(h, cells), new(emptypb.Empty)); err != nil {
		return fromStatus(err)
	}
	return nil
}

// Signal forwards a signal to the process
func (b *Backend) Signal(ctx context.Context, h types.Handle, sig types.Signal) error {
	if err := b.conn.Invoke(ctx, worker.SignalMethod, worker.EncodeSignal(h, sig), new(emptypb.Empty)); err != nil {
		return fromStatus(err)
	}
	return nil
}

// Frames opens the process's frame stream. The channel closes when the worker
// ends the stream, the connection fails or ctx is cancelled.
func (b *Backend) Frames(ctx context.Context, h types.Handle) (<-chan types.Frame, error) {
	stream, err := b.conn.NewStream(ctx, worker.FramesStreamDesc, worker.FramesMethod)
	if err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.SendMsg(worker.EncodeHandle(h)); err != nil {
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus(err)
	}

	frames := make(chan types.Frame, frameBuffer)
	go func() {
		defer close(frames)
		for {
			msg := new(structpb.Struct)
			if err := stream.RecvMsg(msg); err != nil {
				if !errors.Is(err, io.EOF) && status.Code(err) != codes.Canceled {
					b.logger.Warn("Frame stream ended", "pid", h.PID, "error", err)
				}
				return
			}
			f, err := worker.DecodeFrame(msg)
			if err != nil {
				b.logger.Warn("Dropping malformed frame", "pid", h.PID, "error", err)
				continue
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, nil
}

// fromStatus maps worker status codes back onto the errors backends return
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", st.Message(), types.ErrUnknownProcess)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", st.Message(), context.DeadlineExceeded)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", st.Message(), context.Canceled)
	default:
		return err
	}
}
