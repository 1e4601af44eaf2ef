package devicecloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal REST client for the LAN gateway that fronts the
// battery devices. The gateway holds the command mailbox a sleeping
// device drains on wake and can pulse a device awake out of cycle.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient constructs a gateway client.
func NewClient(baseURL, token string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("devicecloud: empty base url")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// GatewayDevice represents a device registration on the gateway.
type GatewayDevice struct {
	ID   string
	MAC  string
	Name string
}

// QueueResponse reports the gateway's view of a queued command.
type QueueResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// RegisterDevice finds or creates a device on the gateway by MAC.
func (c *Client) RegisterDevice(ctx context.Context, mac, name, sensorKind string) (GatewayDevice, error) {
	if mac == "" {
		return GatewayDevice{}, errors.New("devicecloud: empty mac")
	}
	existing, ok, err := c.FindDeviceByMAC(ctx, mac)
	if err != nil {
		return GatewayDevice{}, err
	}
	if ok {
		return existing, nil
	}
	body := map[string]any{
		"mac":  strings.ToLower(mac),
		"name": name,
		"kind": sensorKind,
	}
	var resp deviceResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/devices", body, &resp); err != nil {
		return GatewayDevice{}, err
	}
	return GatewayDevice{ID: resp.ID, MAC: resp.MAC, Name: resp.Name}, nil
}

// FindDeviceByMAC looks up a gateway device registration.
func (c *Client) FindDeviceByMAC(ctx context.Context, mac string) (GatewayDevice, bool, error) {
	if mac == "" {
		return GatewayDevice{}, false, errors.New("devicecloud: empty mac")
	}
	var resp deviceResponse
	path := "/api/devices/" + strings.ToLower(mac)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return GatewayDevice{}, false, nil
		}
		return GatewayDevice{}, false, err
	}
	return GatewayDevice{ID: resp.ID, MAC: resp.MAC, Name: resp.Name}, true, nil
}

// QueueCommand places a command in the device's gateway mailbox. The
// device drains the mailbox on its next wake and acks back through the
// cloud. The gateway may answer "acked" directly when the device is
// currently awake.
func (c *Client) QueueCommand(ctx context.Context, mac, commandID, commandType string, payload json.RawMessage) (QueueResponse, error) {
	if mac == "" || commandID == "" || commandType == "" {
		return QueueResponse{}, errors.New("devicecloud: invalid queue args")
	}
	body := map[string]any{
		"command_id": commandID,
		"method":     commandType,
		"params":     json.RawMessage(payload),
	}
	var resp QueueResponse
	path := "/api/devices/" + strings.ToLower(mac) + "/cmd"
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return QueueResponse{}, err
	}
	return resp, nil
}

// WakeDevice asks the gateway to pulse the device awake out of cycle.
func (c *Client) WakeDevice(ctx context.Context, mac string) error {
	if mac == "" {
		return errors.New("devicecloud: empty mac")
	}
	path := "/api/devices/" + strings.ToLower(mac) + "/wake"
	return c.doJSON(ctx, http.MethodPost, path, map[string]any{}, nil)
}

// SetDeviceAttributes sets server-side attributes on a gateway device,
// such as the configured wake interval the device reads on next wake.
func (c *Client) SetDeviceAttributes(ctx context.Context, mac string, attrs map[string]any) error {
	if mac == "" {
		return errors.New("devicecloud: empty mac")
	}
	path := "/api/devices/" + strings.ToLower(mac) + "/attributes"
	return c.doJSON(ctx, http.MethodPost, path, attrs, nil)
}

type deviceResponse struct {
	ID   string `json:"id"`
	MAC  string `json:"mac"`
	Name string `json:"name"`
}

var errNotFound = errors.New("devicecloud: not found")

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("devicecloud: http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
