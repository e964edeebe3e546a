package rpc

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/wudi/ocrserve/dispatch"
	"github.com/wudi/ocrserve/observability"
)

// Processor handles one image request end to end and produces its reply.
type Processor interface {
	ProcessOne(ctx context.Context, req *ImageRequest) (*OCRResponse, error)
}

// Dispatcher owns the worker pool behind the RPC surface: it validates each
// request, snapshots it into a task, and blocks on the task's gate until a
// worker decides the outcome or the caller gives up.
type Dispatcher struct {
	pool          *dispatch.Pool
	log           observability.Logger
	tracer        observability.Tracer
	maxImageBytes int64
}

var _ Processor = (*Dispatcher)(nil)

// NewDispatcher wires the pool behind the RPC surface. A maxImageBytes of
// zero or less disables the size check; nil logger and tracer disable those
// hooks.
func NewDispatcher(pool *dispatch.Pool, maxImageBytes int64, log observability.Logger, tracer observability.Tracer) *Dispatcher {
	if log == nil {
		log = observability.NopLogger{}
	}
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	return &Dispatcher{pool: pool, maxImageBytes: maxImageBytes, log: log, tracer: tracer}
}

// ProcessOne implements Processor. Images that degrade inside the pipeline
// still return a normal response with sentinel text; only admission,
// cancellation and worker failures surface as errors, each with a Connect
// code the client can branch on.
func (d *Dispatcher) ProcessOne(ctx context.Context, req *ImageRequest) (*OCRResponse, error) {
	ctx, span := d.tracer.StartSpan(ctx, "ocr.process_image")
	defer span.Finish()
	span.SetTag("filename", req.Filename)
	span.SetTag("image_id", req.ImageID)
	span.SetTag("batch_id", req.BatchID)

	if err := d.validate(req); err != nil {
		span.SetError(err)
		return nil, err
	}

	task := dispatch.NewTask(ctx, req.Filename, req.BatchID, req.ImageID, req.ImageData)
	d.log.Info("received image",
		observability.String("task_id", task.ID.String()),
		observability.String("filename", req.Filename),
		observability.Int("image_id", int(req.ImageID)),
		observability.Int("batch_id", int(req.BatchID)),
		observability.Int("bytes", len(req.ImageData)))

	if err := d.pool.Submit(task); err != nil {
		span.SetError(err)
		switch {
		case errors.Is(err, dispatch.ErrQueueFull):
			return nil, connect.NewError(connect.CodeResourceExhausted, err)
		case errors.Is(err, dispatch.ErrStopped):
			return nil, connect.NewError(connect.CodeUnavailable, err)
		default:
			return nil, connect.NewError(connect.CodeInternal, err)
		}
	}
	span.SetTag(observability.MetricQueueDepth, d.pool.Stats().QueueDepth)

	out, err := task.Wait()
	if err != nil {
		span.SetError(err)
		switch {
		case errors.Is(err, context.Canceled):
			return nil, connect.NewError(connect.CodeCanceled, err)
		case errors.Is(err, context.DeadlineExceeded):
			return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
		default:
			return nil, connect.NewError(connect.CodeInternal, err)
		}
	}
	span.SetTag(observability.MetricPipelineTime, out.ElapsedMS)

	return &OCRResponse{
		ImageID:          req.ImageID,
		Filename:         req.Filename,
		ExtractedText:    out.Text,
		ProcessingTimeMS: out.ElapsedMS,
		Success:          out.Success,
		ProcessedImage:   out.Processed,
	}, nil
}

func (d *Dispatcher) validate(req *ImageRequest) error {
	if len(req.ImageData) == 0 {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("image_data is empty"))
	}
	if d.maxImageBytes > 0 && int64(len(req.ImageData)) > d.maxImageBytes {
		return connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("image_data is %d bytes, limit is %d", len(req.ImageData), d.maxImageBytes))
	}
	return nil
}
