package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/andrelcm/pigeon/internal/session"
	"github.com/andrelcm/pigeon/internal/wire"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	limitFlag := flag.Int("limit", 50, "max messages to print")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := newControlClient(session.SocketPath(sessionName))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "rooms":
		cmdRooms(ctx, c, *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: pigeonctl messages <roomId>")
			os.Exit(1)
		}
		cmdMessages(ctx, c, args[1], *limitFlag, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: pigeonctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status              Show daemon connection status")
	fmt.Fprintln(os.Stderr, "  rooms               List cached rooms")
	fmt.Fprintln(os.Stderr, "  messages <roomId>   Print a room's cached history")
}

// controlClient talks HTTP over the daemon's unix socket.
type controlClient struct {
	httpc *http.Client
}

func newControlClient(socketPath string) *controlClient {
	return &controlClient{
		httpc: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
}

func (c *controlClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://pigeon"+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon (is pigeond running?): %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type statusResponse struct {
	Session  string `json:"session"`
	State    string `json:"state"`
	Username string `json:"username,omitempty"`
	PID      int    `json:"pid"`
}

func cmdStatus(ctx context.Context, c *controlClient, jsonOut bool) {
	var status statusResponse
	if err := c.get(ctx, "/v1/status", &status); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(status)
		return
	}
	fmt.Printf("Session:  %s\n", status.Session)
	fmt.Printf("State:    %s\n", status.State)
	if status.Username != "" {
		fmt.Printf("Username: %s\n", status.Username)
	}
	fmt.Printf("PID:      %d\n", status.PID)
}

func cmdRooms(ctx context.Context, c *controlClient, jsonOut bool) {
	var rooms []wire.Room
	if err := c.get(ctx, "/v1/rooms", &rooms); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(rooms)
		return
	}
	if len(rooms) == 0 {
		fmt.Println("no rooms cached")
		return
	}
	for i := range rooms {
		kind := "private"
		if rooms[i].IsGroup {
			kind = "group"
		}
		fmt.Printf("%-24s  %-8s  %s\n", rooms[i].ID, kind, rooms[i].DisplayName())
	}
}

func cmdMessages(ctx context.Context, c *controlClient, roomID string, limit int, jsonOut bool) {
	var msgs []wire.Message
	path := "/v1/rooms/" + roomID + "/messages?limit=" + strconv.Itoa(limit)
	if err := c.get(ctx, path, &msgs); err != nil {
		fatal(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for i := range msgs {
		ts := msgs[i].Timestamp
		if ts == "" {
			ts = "unknown"
		}
		fmt.Printf("[%s] %s: %s\n", ts, msgs[i].SenderUsername, msgs[i].Content)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
