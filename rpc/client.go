package rpc

import (
	"context"
	"errors"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the service over the Connect protocol. It is safe for
// concurrent use; batch submitters share one Client across goroutines.
type Client struct {
	call *connect.Client[ImageRequest, OCRResponse]
}

// NewClient builds a client for the server at baseURL, for example
// "http://127.0.0.1:50051". The HTTP client supplies transport concerns such
// as TLS and dial timeouts; http.DefaultClient works for plain setups.
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	return &Client{
		call: connect.NewClient[ImageRequest, OCRResponse](
			httpClient,
			strings.TrimSuffix(baseURL, "/")+ProcedureProcessImage,
			connect.WithCodec(jsonCodec{}),
		),
	}
}

// ProcessImage submits one image and returns its reply. The server streams
// exactly one response per call; anything else is a protocol violation.
func (c *Client) ProcessImage(ctx context.Context, req *ImageRequest) (*OCRResponse, error) {
	stream, err := c.call.CallServerStream(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if !stream.Receive() {
		if err := stream.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("rpc: stream ended without a response")
	}
	resp := stream.Msg()
	if stream.Receive() {
		return nil, errors.New("rpc: more than one response on the stream")
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}
