package rpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/wudi/ocrserve/observability"
)

// Service adapts a Processor to the Connect server-streaming surface. The
// wire contract streams exactly one response per call; the stream shape
// leaves room for incremental results without breaking clients.
type Service struct {
	processor Processor
	log       observability.Logger
}

// NewService builds the RPC service around a processor.
func NewService(processor Processor, log observability.Logger) *Service {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Service{processor: processor, log: log}
}

// ProcessImage handles one call: one request in, one response out.
func (s *Service) ProcessImage(ctx context.Context, req *connect.Request[ImageRequest], stream *connect.ServerStream[OCRResponse]) error {
	resp, err := s.processor.ProcessOne(ctx, req.Msg)
	if err != nil {
		s.log.Warn("process image failed",
			observability.String("filename", req.Msg.Filename),
			observability.Int("image_id", int(req.Msg.ImageID)),
			observability.Error("err", err))
		return err
	}
	return stream.Send(resp)
}

// Handler returns the route pattern and the Connect handler serving it.
func (s *Service) Handler() (string, http.Handler) {
	h := connect.NewServerStreamHandler(
		ProcedureProcessImage,
		s.ProcessImage,
		connect.WithCodec(jsonCodec{}),
	)
	return ProcedureProcessImage, h
}
