package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/google/uuid"

	"github.com/duotree/agent/internal/rpc"
)

// statusTimeout bounds the whole status round-trip: dial plus one call.
const statusTimeout = 5 * time.Second

// deviceListEntry mirrors the wire shape returned by get_device_list
// (internal/rpc/handlers.go's handleGetDeviceList).
type deviceListEntry struct {
	DeviceUID    uint32 `json:"device_uid"`
	FriendlyName string `json:"friendly_name"`
	TreeType     string `json:"tree_type"`
	RootPath     string `json:"root_path,omitempty"`
	Account      string `json:"account,omitempty"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report the running daemon's configured devices",
		Long:  "Connects to a running duotreed over the RPC facade and prints get_device_list, or reports that no daemon is reachable. Uses the same --port as the daemon being queried.",
		RunE:  runStatus,
	}

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if _, err := readPIDFile(pidFilePath()); err != nil {
		fmt.Println("duotreed is not running (no PID file)")

		return nil
	}

	devices, err := fetchDeviceList(cmd.Context())
	if err != nil {
		return fmt.Errorf("querying daemon: %w", err)
	}

	if len(devices) == 0 {
		fmt.Println("daemon is running; no device roots configured")

		return nil
	}

	rows := make([][]string, 0, len(devices))
	for _, d := range devices {
		location := d.RootPath
		if location == "" {
			location = d.Account
		}

		rows = append(rows, []string{
			fmt.Sprint(d.DeviceUID), d.FriendlyName, d.TreeType, location,
		})
	}

	printTable(cmd.OutOrStdout(), []string{"DEVICE_UID", "NAME", "TREE_TYPE", "LOCATION"}, rows)

	return nil
}

// fetchDeviceList dials the daemon's RPC facade, issues one get_device_list
// call, and returns the decoded result.
func fetchDeviceList(ctx context.Context) ([]deviceListEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	port := flagPort
	if port == 0 {
		port = defaultRPCPort
	}

	url := fmt.Sprintf("ws://127.0.0.1:%d/rpc", port)

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	defer conn.CloseNow() //nolint:errcheck // best-effort after the round-trip below

	req := rpc.Envelope{ID: uuid.NewString(), Method: "get_device_list"}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	var resp rpc.Envelope
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.Error != nil {
		return nil, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}

	var devices []deviceListEntry
	if err := json.Unmarshal(resp.Result, &devices); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}

	return devices, nil
}
