package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// Client invokes CoordinatorServer methods over an already-dialed
// connection, using the same jsonCodec as ServiceDesc.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps conn. The caller owns conn's lifecycle.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	fullMethod := fmt.Sprintf("/%s/%s", serviceName, method)
	if err := c.conn.Invoke(ctx, fullMethod, req, resp, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	return nil
}

func (c *Client) RegisterNode(ctx context.Context, req *RegisterNodeRequest) (*RegisterNodeResponse, error) {
	resp := new(RegisterNodeResponse)
	if err := c.invoke(ctx, "RegisterNode", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) UnregisterNode(ctx context.Context, req *UnregisterNodeRequest) (*UnregisterNodeResponse, error) {
	resp := new(UnregisterNodeResponse)
	if err := c.invoke(ctx, "UnregisterNode", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) RegisterLogicalStream(ctx context.Context, req *RegisterLogicalStreamRequest) (*RegisterLogicalStreamResponse, error) {
	resp := new(RegisterLogicalStreamResponse)
	if err := c.invoke(ctx, "RegisterLogicalStream", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) UnregisterLogicalStream(ctx context.Context, req *UnregisterLogicalStreamRequest) (*UnregisterLogicalStreamResponse, error) {
	resp := new(UnregisterLogicalStreamResponse)
	if err := c.invoke(ctx, "UnregisterLogicalStream", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) RegisterPhysicalStream(ctx context.Context, req *RegisterPhysicalStreamRequest) (*RegisterPhysicalStreamResponse, error) {
	resp := new(RegisterPhysicalStreamResponse)
	if err := c.invoke(ctx, "RegisterPhysicalStream", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) UnregisterPhysicalStream(ctx context.Context, req *UnregisterPhysicalStreamRequest) (*UnregisterPhysicalStreamResponse, error) {
	resp := new(UnregisterPhysicalStreamResponse)
	if err := c.invoke(ctx, "UnregisterPhysicalStream", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) RegisterQuery(ctx context.Context, req *RegisterQueryRequest) (*RegisterQueryResponse, error) {
	resp := new(RegisterQueryResponse)
	if err := c.invoke(ctx, "RegisterQuery", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) StartQuery(ctx context.Context, req *StartQueryRequest) (*StartQueryResponse, error) {
	resp := new(StartQueryResponse)
	if err := c.invoke(ctx, "StartQuery", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) StopQuery(ctx context.Context, req *StopQueryRequest) (*StopQueryResponse, error) {
	resp := new(StopQueryResponse)
	if err := c.invoke(ctx, "StopQuery", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) UnregisterQuery(ctx context.Context, req *UnregisterQueryRequest) (*UnregisterQueryResponse, error) {
	resp := new(UnregisterQueryResponse)
	if err := c.invoke(ctx, "UnregisterQuery", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ProbeStat(ctx context.Context, req *ProbeStatRequest) (*ProbeStatResponse, error) {
	resp := new(ProbeStatResponse)
	if err := c.invoke(ctx, "ProbeStat", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
