package nakama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/heroiclabs/nakama-common/api"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Endpoint locates a Nakama server.
type Endpoint struct {
	Host      string
	Port      int
	ServerKey string
	UseSSL    bool
}

// BaseURL returns the REST gateway root.
func (e Endpoint) BaseURL() string {
	scheme := "http"
	if e.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// SocketURL returns the realtime endpoint for token in the given envelope format.
func (e Endpoint) SocketURL(token, format string) string {
	scheme := "ws"
	if e.UseSSL {
		scheme = "wss"
	}
	q := url.Values{}
	q.Set("lang", "en")
	q.Set("status", "true")
	q.Set("format", format)
	q.Set("token", token)
	return scheme + "://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) + "/ws?" + q.Encode()
}

// APIError is a non-2xx reply from the REST gateway.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nakama api error: status %d code %d: %s", e.Status, e.Code, e.Message)
}

var (
	marshaler   = protojson.MarshalOptions{UseProtoNames: true}
	unmarshaler = protojson.UnmarshalOptions{DiscardUnknown: true}
)

// APIClient speaks the subset of the Nakama REST gateway the client needs.
type APIClient struct {
	endpoint Endpoint
	http     *http.Client
}

// NewAPIClient creates a client. A nil httpClient gets one with timeout; a
// given client without its own timeout is copied and gets timeout.
func NewAPIClient(endpoint Endpoint, httpClient *http.Client, timeout time.Duration) *APIClient {
	switch {
	case httpClient == nil:
		httpClient = &http.Client{Timeout: timeout}
	case httpClient.Timeout == 0 && timeout > 0:
		c := *httpClient
		c.Timeout = timeout
		httpClient = &c
	}
	return &APIClient{endpoint: endpoint, http: httpClient}
}

// Endpoint returns the server this client talks to.
func (c *APIClient) Endpoint() Endpoint {
	return c.endpoint
}

// AuthenticateDevice logs a device in, creating the account on first use.
func (c *APIClient) AuthenticateDevice(ctx context.Context, deviceID, username string) (*api.Session, error) {
	q := url.Values{}
	q.Set("create", "true")
	if username != "" {
		q.Set("username", username)
	}
	req, err := c.newProtoRequest(ctx, http.MethodPost, "/v2/account/authenticate/device?"+q.Encode(), &api.AccountDevice{Id: deviceID})
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.endpoint.ServerKey, "")

	out := &api.Session{}
	if err := c.do(req, out); err != nil {
		return nil, fmt.Errorf("failed to authenticate device: %w", err)
	}
	return out, nil
}

// RPC calls a server function with a JSON payload and returns its JSON reply.
func (c *APIClient) RPC(ctx context.Context, token, id string, payload any) ([]byte, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rpc payload: %w", err)
	}
	// The gateway expects the payload as a JSON string.
	body, err := json.Marshal(string(inner))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rpc body: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v2/rpc/"+url.PathEscape(id), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	out := &api.Rpc{}
	if err := c.do(req, out); err != nil {
		return nil, fmt.Errorf("failed to call rpc %s: %w", id, err)
	}
	return []byte(out.GetPayload()), nil
}

// WriteStorageObjects writes objects owned by the token's user.
func (c *APIClient) WriteStorageObjects(ctx context.Context, token string, objects []*api.WriteStorageObject) (*api.StorageObjectAcks, error) {
	req, err := c.newProtoRequest(ctx, http.MethodPut, "/v2/storage", &api.WriteStorageObjectsRequest{Objects: objects})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	out := &api.StorageObjectAcks{}
	if err := c.do(req, out); err != nil {
		return nil, fmt.Errorf("failed to write storage objects: %w", err)
	}
	return out, nil
}

// ReadStorageObjects reads objects by id. Missing objects are simply absent from the reply.
func (c *APIClient) ReadStorageObjects(ctx context.Context, token string, ids []*api.ReadStorageObjectId) (*api.StorageObjects, error) {
	req, err := c.newProtoRequest(ctx, http.MethodPost, "/v2/storage", &api.ReadStorageObjectsRequest{ObjectIds: ids})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	out := &api.StorageObjects{}
	if err := c.do(req, out); err != nil {
		return nil, fmt.Errorf("failed to read storage objects: %w", err)
	}
	return out, nil
}

func (c *APIClient) newProtoRequest(ctx context.Context, method, path string, msg proto.Message) (*http.Request, error) {
	body, err := marshaler.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.newRequest(ctx, method, path, body)
}

func (c *APIClient) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint.BaseURL()+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *APIClient) do(req *http.Request, out proto.Message) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var reply struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &reply) == nil && reply.Message != "" {
			apiErr.Code = reply.Code
			apiErr.Message = reply.Message
		}
		return apiErr
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := unmarshaler.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
