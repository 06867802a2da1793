// Command pigeon is the interactive line-oriented chat client: log in,
// open a room, and exchange messages from the terminal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/andrelcm/pigeon/internal/bus"
	"github.com/andrelcm/pigeon/internal/client"
	"github.com/andrelcm/pigeon/internal/config"
	"github.com/andrelcm/pigeon/internal/conn"
	"github.com/andrelcm/pigeon/internal/dispatch"
	"github.com/andrelcm/pigeon/internal/logging"
	"github.com/andrelcm/pigeon/internal/outbox"
	"github.com/andrelcm/pigeon/internal/reconcile"
	"github.com/andrelcm/pigeon/internal/registry"
	"github.com/andrelcm/pigeon/internal/rest"
	"github.com/andrelcm/pigeon/internal/session"
	"github.com/andrelcm/pigeon/internal/stomp"
	"go.uber.org/zap"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	loginFlag := flag.Bool("login", false, "force a fresh login even if credentials exist")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fatal(err)
	}
	if err := session.EnsureDir(sessionName); err != nil {
		fatal(err)
	}

	logger, err := logging.NewFile(session.LogPath(sessionName), sessionName)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.LoadOrDefault(session.ConfigPath())
	app := newApp(cfg, logger)
	defer app.shutdown()

	ctx := context.Background()
	stdin := bufio.NewScanner(os.Stdin)

	credsPath := session.CredentialsPath(sessionName)
	creds, credsErr := config.LoadCredentials(credsPath)
	if *loginFlag || credsErr != nil {
		creds, err = app.login(ctx, stdin)
		if err != nil {
			fatal(err)
		}
		if err := config.SaveCredentials(credsPath, creds); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not save credentials: %v\n", err)
		}
	} else {
		if err := app.client.Attach(ctx, creds.Username, creds.Token); err != nil {
			fatal(fmt.Errorf("attach failed (try --login): %w", err))
		}
	}

	fmt.Printf("logged in as %s\n", app.client.Username())
	app.listRooms(ctx)
	app.loop(ctx, stdin)
}

// app wires the client stack for a foreground terminal session.
type app struct {
	client     *client.Client
	manager    *conn.Manager
	dispatcher *dispatch.Dispatcher
	room       *client.RoomSession
	printStop  chan struct{}
	logger     *zap.Logger
}

func newApp(cfg *config.Config, logger *zap.Logger) *app {
	b := bus.New()
	dialer := conn.DialerFunc(func(ctx context.Context, credential string) (conn.Transport, error) {
		c, err := stomp.Dial(ctx, cfg.WSURL, credential, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	manager := conn.NewManager(dialer, b, logger)
	disp := dispatch.New(manager.Frames(), b, logger)
	go disp.Run()

	cl := client.New(client.Params{
		Manager:  manager,
		Registry: registry.New(manager, logger),
		Sender:   outbox.New(manager, b, logger),
		API:      rest.NewClient(cfg.APIURL, rest.WithLogger(logger)),
		Bus:      b,
		Logger:   logger,
	})
	return &app{
		client:     cl,
		manager:    manager,
		dispatcher: disp,
		logger:     logger,
	}
}

func (a *app) shutdown() {
	a.closeRoom()
	a.manager.Disconnect()
	a.dispatcher.Stop()
}

func (a *app) login(ctx context.Context, stdin *bufio.Scanner) (*config.Credentials, error) {
	email := prompt(stdin, "email: ")
	password := prompt(stdin, "password: ")
	resp, err := a.client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return &config.Credentials{Username: resp.Username, Token: resp.Token}, nil
}

func (a *app) listRooms(ctx context.Context) {
	rooms, err := a.client.Rooms(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: list rooms: %v\n", err)
		return
	}
	if len(rooms) == 0 {
		fmt.Println("no rooms yet; /dm <username> starts one")
		return
	}
	fmt.Println("rooms:")
	for i := range rooms {
		kind := "private"
		if rooms[i].IsGroup {
			kind = "group"
		}
		fmt.Printf("  %-24s  %-8s  %s\n", rooms[i].ID, kind, rooms[i].DisplayName())
	}
	fmt.Println("/open <roomId> to enter a room")
}

// loop reads commands and messages until EOF or /quit.
func (a *app) loop(ctx context.Context, stdin *bufio.Scanner) {
	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			return
		}
		line := strings.TrimSpace(stdin.Text())
		switch {
		case line == "":
		case line == "/quit":
			return
		case line == "/rooms":
			a.listRooms(ctx)
		case strings.HasPrefix(line, "/open "):
			a.openRoom(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/open ")))
		case strings.HasPrefix(line, "/dm "):
			a.openDM(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/dm ")))
		case strings.HasPrefix(line, "/search "):
			a.searchUsers(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/search ")))
		case line == "/close":
			a.closeRoom()
		case strings.HasPrefix(line, "/"):
			fmt.Println("commands: /rooms, /open <roomId>, /dm <username>, /search <query>, /close, /quit")
		default:
			a.send(ctx, line)
		}
	}
}

func (a *app) openRoom(ctx context.Context, roomID string) {
	if roomID == "" {
		fmt.Println("usage: /open <roomId>")
		return
	}
	a.closeRoom()
	s, err := a.client.OpenRoom(ctx, roomID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open room: %v\n", err)
		return
	}
	a.room = s

	for _, m := range s.Messages() {
		printRendered(m)
	}

	a.printStop = make(chan struct{})
	go func(stop chan struct{}) {
		for {
			select {
			case <-stop:
				return
			case e := <-s.Events():
				fmt.Printf("\r%s: %s\n> ", e.Message.SenderUsername, e.Message.Content)
			}
		}
	}(a.printStop)
}

func (a *app) openDM(ctx context.Context, username string) {
	if username == "" {
		fmt.Println("usage: /dm <username>")
		return
	}
	room, err := a.client.OpenPrivateChat(ctx, username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: open chat: %v\n", err)
		return
	}
	a.openRoom(ctx, room.ID)
}

func (a *app) searchUsers(ctx context.Context, query string) {
	if query == "" {
		fmt.Println("usage: /search <query>")
		return
	}
	users, err := a.client.SearchUsers(ctx, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: search: %v\n", err)
		return
	}
	if len(users) == 0 {
		fmt.Println("no users found")
		return
	}
	for _, u := range users {
		fmt.Printf("  %s\n", u.Username)
	}
	fmt.Println("/dm <username> to start a chat")
}

func (a *app) closeRoom() {
	if a.room == nil {
		return
	}
	close(a.printStop)
	if err := a.room.Close(); err != nil {
		a.logger.Warn("close room", zap.Error(err))
	}
	a.room = nil
}

func (a *app) send(ctx context.Context, content string) {
	if a.room == nil {
		fmt.Println("no room open; /open <roomId> first")
		return
	}
	if err := a.room.Send(ctx, content); err != nil {
		fmt.Fprintf(os.Stderr, "error: send: %v\n", err)
	}
}

func printRendered(m reconcile.Rendered) {
	suffix := ""
	if m.Pending {
		suffix = " (sending)"
	}
	fmt.Printf("[%s] %s: %s%s\n", m.Time.Local().Format("15:04"), m.Sender, m.Content, suffix)
}

func prompt(stdin *bufio.Scanner, label string) string {
	fmt.Print(label)
	if !stdin.Scan() {
		return ""
	}
	return strings.TrimSpace(stdin.Text())
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
