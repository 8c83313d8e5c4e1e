package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultConnectTimeout = 5 * time.Second

// dialer is one way of reaching a server.
type dialer struct {
	name      string
	transport sdkmcp.Transport
	// streaming transports keep a server stream open on the connect
	// context, so that context must outlive the handshake.
	streaming bool
}

// dialers lists the transports to try for cfg, in order.
func dialers(cfg *Config) ([]dialer, error) {
	switch cfg.Type {
	case TransportTypeRemote, TransportTypeSSE:
		if cfg.URL == "" {
			return nil, errors.New("remote server has no url")
		}
		hc := headerClient(cfg.Headers)
		var ds []dialer
		if cfg.Type == TransportTypeRemote {
			ds = append(ds, dialer{"streamable", &sdkmcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: hc}, true})
		}
		return append(ds, dialer{"sse", &sdkmcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: hc}, true}), nil

	case TransportTypeLocal, TransportTypeStdio:
		if len(cfg.Command) == 0 {
			return nil, errors.New("empty command")
		}
		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Environment {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return []dialer{{"stdio", &sdkmcp.CommandTransport{Command: cmd}, false}}, nil
	}
	return nil, fmt.Errorf("unknown transport type: %s", cfg.Type)
}

// dial connects through the first dialer that completes the handshake and
// a tool listing within the configured timeout.
func (c *Client) dial(ctx context.Context, cfg *Config) (*conn, error) {
	ds, err := dialers(cfg)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	var errs []error
	for _, d := range ds {
		cn, err := c.dialOne(ctx, d, timeout)
		if err == nil {
			return cn, nil
		}
		if len(ds) == 1 {
			return nil, err
		}
		errs = append(errs, fmt.Errorf("%s transport: %w", d.name, err))
	}
	return nil, errors.Join(errs...)
}

func (c *Client) dialOne(ctx context.Context, d dialer, timeout time.Duration) (*conn, error) {
	bounded, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sessCtx := bounded
	if d.streaming {
		sessCtx = context.WithoutCancel(ctx)
	}
	sess, err := c.sdk.Connect(sessCtx, d.transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	cn := &conn{session: sess}
	if init := sess.InitializeResult(); init != nil && init.ServerInfo != nil {
		cn.server = init.ServerInfo.Name + " " + init.ServerInfo.Version
	}
	if cn.tools, err = listTools(bounded, sess); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return cn, nil
}

// listTools pages through tools/list.
func listTools(ctx context.Context, sess *sdkmcp.ClientSession) ([]Tool, error) {
	var (
		out    []Tool
		cursor string
	)
	for {
		page, err := sess.ListTools(ctx, &sdkmcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, err
		}
		for _, t := range page.Tools {
			out = append(out, FromSDKTool(t))
		}
		if page.NextCursor == "" {
			return out, nil
		}
		cursor = page.NextCursor
	}
}

// headerClient returns an HTTP client that adds headers to every request.
// It has no overall timeout; streams are bounded by their contexts.
func headerClient(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return &http.Client{}
	}
	return &http.Client{Transport: headerTransport{headers: headers, next: http.DefaultTransport}}
}

type headerTransport struct {
	headers map[string]string
	next    http.RoundTripper
}

func (h headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}
	return h.next.RoundTrip(req)
}
