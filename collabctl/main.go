package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"github.com/bringyour/collab/collab"
)

const CollabCtlVersion = "0.0.1"

// ui tick. Dispatcher events are drained once per tick.
const TickTimeout = 50 * time.Millisecond

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(
		`Collaborative task graph shell.

The relay url defaults to COLLAB_RELAY_URL, or %s.

Usage:
    collabctl create [--relay_url=<relay_url>] [--name=<name>] [--project=<project_file>]
    collabctl join <code> [--relay_url=<relay_url>] [--name=<name>]
    collabctl rejoin <code> [--relay_url=<relay_url>] [--name=<name>]
    collabctl -h | --help
    collabctl --version

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --relay_url=<relay_url>    Relay websocket url.
    --name=<name>              Display name.
    --project=<project_file>   Project json to share.`,
		collab.DefaultRelayUrl,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabCtlVersion)
	if err != nil {
		panic(err)
	}

	config, err := collab.ParseConfig()
	if err != nil {
		Err.Fatalf("%s", err)
	}
	settings := config.DispatcherSettings()
	if relayUrl, _ := opts.String("--relay_url"); relayUrl != "" {
		settings.Endpoint = relayUrl
	}

	if create, _ := opts.Bool("create"); create {
		run(opts, settings, func(dispatcher *collab.Dispatcher, graph *collab.Graph, name string) error {
			if projectFile, _ := opts.String("--project"); projectFile != "" {
				snapshot, err := loadProject(projectFile)
				if err != nil {
					return err
				}
				graph.Load(snapshot)
			}
			return dispatcher.CreateRoom(name, nil)
		})
	} else if join, _ := opts.Bool("join"); join {
		code, _ := opts.String("<code>")
		run(opts, settings, func(dispatcher *collab.Dispatcher, graph *collab.Graph, name string) error {
			return dispatcher.JoinRoom(code, name)
		})
	} else if rejoin, _ := opts.Bool("rejoin"); rejoin {
		code, _ := opts.String("<code>")
		run(opts, settings, func(dispatcher *collab.Dispatcher, graph *collab.Graph, name string) error {
			return dispatcher.RejoinRoom(code, name)
		})
	}
}

func loadProject(projectFile string) (*collab.GraphSnapshot, error) {
	projectData, err := os.ReadFile(projectFile)
	if err != nil {
		return nil, err
	}
	return collab.ParseGraphSnapshot(projectData)
}

type startFunction func(dispatcher *collab.Dispatcher, graph *collab.Graph, name string) error

func run(opts docopt.Opts, settings *collab.DispatcherSettings, start startFunction) {
	// quit, end of input and signals only stop the ui loop
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer cancel()

	// the client outlives the ui loop, so that closing the dispatcher can still leave the room
	clientCtx, clientCancel := context.WithCancel(context.Background())
	defer clientCancel()

	name, _ := opts.String("--name")

	lines := make(chan string)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		state, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			Err.Fatalf("%s", err)
		}
		defer term.Restore(int(os.Stdin.Fd()), state)

		terminal := term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}, "name: ")
		if name == "" {
			if line, err := terminal.ReadLine(); err == nil {
				name = strings.TrimSpace(line)
			}
		}
		terminal.SetPrompt("> ")
		Out = log.New(terminal, "", 0)
		go readLines(ctx, cancel, terminal.ReadLine, lines)
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		go readLines(ctx, cancel, func() (string, error) {
			if scanner.Scan() {
				return scanner.Text(), nil
			}
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}, lines)
	}
	if name == "" {
		name = "Guest"
	}

	graph := collab.NewGraph()
	channel := collab.NewRelayTransport(clientCtx, settings.TransportSettings)
	dispatcher := collab.NewDispatcher(clientCtx, graph, channel, settings)
	// leaves the room and flushes before the connection closes
	defer dispatcher.Close()

	dispatcher.AddListener(func(event collab.Event) {
		printEvent(event)
	})

	if err := start(dispatcher, graph, name); err != nil {
		Err.Fatalf("%s", err)
	}

	shell := &shell{
		dispatcher: dispatcher,
		graph:      graph,
		cancel:     cancel,
	}

	ticker := time.NewTicker(TickTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			dispatcher.Drain()
			return
		case line := <-lines:
			shell.handle(line)
		case <-ticker.C:
			dispatcher.Drain()
		}
	}
}

func readLines(ctx context.Context, cancel context.CancelFunc, readLine func() (string, error), lines chan string) {
	defer cancel()
	for {
		line, err := readLine()
		if err != nil {
			return
		}
		select {
		case lines <- line:
		case <-ctx.Done():
			return
		}
	}
}

func printEvent(event collab.Event) {
	switch v := event.(type) {
	case *collab.ConnectedEvent:
		Out.Printf("connected")
	case *collab.DisconnectedEvent:
		if v.Err != nil {
			Out.Printf("disconnected: %s", v.Err)
		} else {
			Out.Printf("disconnected")
		}
	case *collab.RoomCreatedEvent:
		Out.Printf("room created. Invite code: %s", v.Code)
	case *collab.RoomJoinedEvent:
		Out.Printf("joined room %s as %s (%d members)", v.RoomId, v.Role, len(v.Members))
	case *collab.JoinFailedEvent:
		Out.Printf("join failed: %s", v.Message)
	case *collab.RoomLeftEvent:
		Out.Printf("left room")
	case *collab.RoomClosedEvent:
		Out.Printf("room closed: %s", v.Message)
	case *collab.UserJoinedEvent:
		Out.Printf("%s joined", v.Participant.DisplayName)
	case *collab.UserLeftEvent:
		Out.Printf("%s left", v.ParticipantId)
	case *collab.ProjectUpdatedEvent:
		Out.Printf("project updated (%d tasks)", len(v.Snapshot.Nodes))
	case *collab.TaskActionEvent:
		if !v.Applied {
			Out.Printf("dropped %s from %s", v.Action.Kind(), v.From)
		}
	case *collab.ErrorEvent:
		Out.Printf("%s error: %s", v.Op, v.Err)
	}
}

// commands run on the ui goroutine
type shell struct {
	dispatcher *collab.Dispatcher
	graph      *collab.Graph
	cancel     context.CancelFunc
}

func (self *shell) handle(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	args := fields[1:]

	var err error
	switch fields[0] {
	case "add":
		err = self.add(args)
	case "rm":
		err = self.perform(args, 1, func(indexes []int, rest []string) (collab.TaskAction, error) {
			return &collab.DeleteTask{Target: collab.IndexRef(indexes[0])}, nil
		})
	case "mv":
		err = self.perform(args, 1, func(indexes []int, rest []string) (collab.TaskAction, error) {
			if len(rest) != 2 {
				return nil, fmt.Errorf("usage: mv <n> <x> <y>")
			}
			x, y, err := parsePoint(rest)
			if err != nil {
				return nil, err
			}
			return &collab.UpdateTask{Target: collab.IndexRef(indexes[0]), X: &x, Y: &y}, nil
		})
	case "title":
		err = self.perform(args, 1, func(indexes []int, rest []string) (collab.TaskAction, error) {
			title := strings.Join(rest, " ")
			return &collab.UpdateTask{Target: collab.IndexRef(indexes[0]), Title: &title}, nil
		})
	case "desc":
		err = self.perform(args, 1, func(indexes []int, rest []string) (collab.TaskAction, error) {
			description := strings.Join(rest, " ")
			return &collab.UpdateTask{Target: collab.IndexRef(indexes[0]), Description: &description}, nil
		})
	case "status":
		err = self.perform(args, 1, func(indexes []int, rest []string) (collab.TaskAction, error) {
			if len(rest) != 1 {
				return nil, fmt.Errorf("usage: status <n> <none|todo|progress|done|cancelled>")
			}
			status := collab.Status(rest[0])
			if !status.Valid() {
				return nil, fmt.Errorf("unknown status %s", rest[0])
			}
			return &collab.UpdateTask{Target: collab.IndexRef(indexes[0]), Status: &status}, nil
		})
	case "link":
		err = self.perform(args, 2, func(indexes []int, rest []string) (collab.TaskAction, error) {
			return &collab.ConnectTasks{From: collab.IndexRef(indexes[0]), To: collab.IndexRef(indexes[1])}, nil
		})
	case "unlink":
		err = self.perform(args, 2, func(indexes []int, rest []string) (collab.TaskAction, error) {
			return &collab.DisconnectTasks{From: collab.IndexRef(indexes[0]), To: collab.IndexRef(indexes[1])}, nil
		})
	case "ls":
		self.list()
	case "who":
		self.who()
	case "cursor":
		var x, y float64
		if x, y, err = parsePoint(args); err == nil {
			self.dispatcher.SendCursor(x, y)
		}
	case "sync":
		err = self.dispatcher.SyncProject(nil)
	case "save":
		err = self.save(args)
	case "leave":
		err = self.dispatcher.LeaveRoom()
	case "close":
		err = self.dispatcher.CloseRoom()
	case "quit", "exit":
		self.cancel()
	case "help":
		Out.Printf("add <title> [x y] | rm <n> | mv <n> <x> <y> | title <n> <title> | desc <n> <text> | " +
			"status <n> <status> | link <a> <b> | unlink <a> <b> | ls | who | cursor <x> <y> | " +
			"sync | save <file> | leave | close | quit")
	default:
		err = fmt.Errorf("unknown command %s. Try help.", fields[0])
	}
	if err != nil {
		Out.Printf("%s", err)
	}
}

func (self *shell) add(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: add <title> [x y]")
	}
	x := collab.DefaultTaskPosition
	y := collab.DefaultTaskPosition
	titleArgs := args
	if 3 <= len(args) {
		if px, py, err := parsePoint(args[len(args)-2:]); err == nil {
			x, y = px, py
			titleArgs = args[:len(args)-2]
		}
	}
	self.dispatcher.Perform(collab.NewCreateTask(strings.Join(titleArgs, " "), x, y))
	return nil
}

// parses `n` leading task indexes, then builds and performs the action
func (self *shell) perform(
	args []string,
	n int,
	action func(indexes []int, rest []string) (collab.TaskAction, error),
) error {
	if len(args) < n {
		return fmt.Errorf("expected %d task indexes", n)
	}
	indexes := make([]int, n)
	for i := range n {
		index, err := strconv.Atoi(args[i])
		if err != nil {
			return fmt.Errorf("bad task index %s", args[i])
		}
		indexes[i] = index
	}
	a, err := action(indexes, args[n:])
	if err != nil {
		return err
	}
	if !self.dispatcher.Perform(a) {
		return fmt.Errorf("%s did not apply", a.Kind())
	}
	return nil
}

func (self *shell) list() {
	snapshot := self.graph.Snapshot()
	for i, node := range snapshot.Nodes {
		Out.Printf("%3d  %-10s (%.0f, %.0f)  %s", i, node.Status, node.X, node.Y, node.Title)
	}
	for _, edge := range snapshot.Connections {
		Out.Printf("     %d -- %d", edge[0], edge[1])
	}
}

func (self *shell) who() {
	room := self.dispatcher.Session()
	Out.Printf("%s  room=%s code=%s role=%s", self.dispatcher.State(), room.RoomId, room.InviteCode, room.Role)
	for _, participant := range self.dispatcher.Roster() {
		line := fmt.Sprintf("  %s  %s", participant.Id, participant.DisplayName)
		if participant.Id == room.SelfId {
			line += "  (you)"
		} else if cursor, ok := self.dispatcher.Cursor(participant.Id); ok {
			line += fmt.Sprintf("  @(%.0f, %.0f)", cursor.X, cursor.Y)
		}
		Out.Printf("%s", line)
	}
}

func (self *shell) save(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: save <file>")
	}
	projectData, err := self.graph.Snapshot().Json()
	if err != nil {
		return err
	}
	return os.WriteFile(args[0], projectData, 0644)
}

func parsePoint(args []string) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("expected <x> <y>")
	}
	x, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, err
	}
	y, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
