package moonraker

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spoolsync/spoolsync/internal"
	"go.uber.org/zap"
)

// CommandRequest is the body of a moonraker /api/printer/command call.
type CommandRequest struct {
	Commands []string `json:"commands"`
}

// Client talks to the moonraker HTTP API of a single printer.
type Client struct {
	url string
}

func NewClient(url string) *Client {
	return &Client{url: strings.TrimSuffix(url, "/")}
}

// SetSpoolAndFilament maps the given spool onto an MMU gate via gcode. The
// call has a bounded timeout and does not retry, callers decide whether a
// failure is worth retrying.
func (c *Client) SetSpoolAndFilament(spool int, filament int, gate int) error {
	request := CommandRequest{
		Commands: []string{
			fmt.Sprintf("MMU_GATE_MAP GATE=%d SPOOLID=%d", gate, spool),
		},
	}

	body, err := jsoniter.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal moonraker command: %w", err)
	}
	zap.S().Debugf("Sending command to moonraker: %s", body)

	client := internal.GetHTTPClient(c.url, internal.TenSeconds)
	resp, err := client.Post(c.url+"/api/printer/command", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request to moonraker failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to moonraker failed: %s", resp.Status)
	}
	return nil
}
