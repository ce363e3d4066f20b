// Command kerneld boots the actor microkernel runtime: it loads layered
// configuration, wires structured logging, starts the runtime's unified
// poll/dispatch loop, and spawns a small set of demo actors exercising
// every external interface the spec describes (local messaging, HTTP,
// WebSocket, SSE, supervision) — generalizing the teacher's cmd/app/micro.go
// boot sequence (register services, grant capabilities, Start) into
// "load config, spawn demo actors, Run" for this domain.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"kerneld/internal/config"
	"kerneld/internal/conn"
	"kerneld/internal/kernel"
	"kerneld/internal/logging"
	"kerneld/internal/proto"
	"kerneld/internal/runtime"
	"kerneld/internal/state"
	"kerneld/internal/supervisor"
)

var (
	rootPath   string
	configFile string
	logLevel   string
)

func init() {
	flag.StringVar(&rootPath, "root", ".", "root directory config/state paths are resolved relative to")
	flag.StringVar(&configFile, "config", "", "path to a kerneld.toml config file (default: <root>/kerneld.toml)")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	configureLogging(logLevel)
	log := logging.New("main")

	path := configFile
	if path == "" {
		path = config.DefaultPath(rootPath)
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kerneld: loading config: %v\n", err)
		os.Exit(1)
	}

	store, err := openStateStore(cfg)
	if err != nil {
		log.Error("opening state store", "err", err)
		os.Exit(1)
	}

	rt := runtime.New(runtime.Config{
		NodeID:      cfg.NodeID,
		MaxActors:   cfg.MaxActors,
		PollIdle:    cfg.PollIdle,
		DefaultMBox: cfg.DefaultMBox,
	}, cfg.Identity)

	if cfg.TransportAddr != "" {
		if err := rt.Transports().Listen(cfg.TransportAddr); err != nil {
			log.Error("binding transport listener", "addr", cfg.TransportAddr, "err", err)
			os.Exit(1)
		}
	}
	for _, addr := range cfg.PeerAddrs {
		if _, err := rt.Transports().Connect(addr); err != nil {
			log.Warn("connecting to peer", "addr", addr, "err", err)
		}
	}

	bootstrapID, err := rt.Spawn(kernel.Invalid, func(ctx *kernel.Context, msg kernel.Message) bool { return true }, nil, nil, 1)
	if err != nil {
		log.Error("spawning bootstrap actor", "err", err)
		os.Exit(1)
	}
	ctx := rt.NewContext(bootstrapID)

	spawnEchoDemo(ctx, log)
	spawnHTTPDemo(ctx, rt, cfg.HTTPPort, log)
	spawnSupervisedDemo(ctx, rt, store, log)

	log.Info("kerneld started", "node_id", cfg.NodeID, "http_port", cfg.HTTPPort)
	rt.Run()
}

func configureLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logging.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func openStateStore(cfg config.Config) (state.Store, error) {
	switch cfg.StateDriver {
	case "sqlite3", "mysql":
		return state.OpenSQLStore(cfg.StateDSN)
	default:
		return state.NewFSStore(cfg.StateDSN)
	}
}

// spawnEchoDemo wires spec §8 scenario 1: actor b echoes type-1 messages
// back to their sender as type 2.
func spawnEchoDemo(ctx *kernel.Context, log *slog.Logger) {
	echo := func(ctx *kernel.Context, msg kernel.Message) bool {
		if msg.Type == 1 {
			_ = ctx.Send(msg.Source, 2, msg.Payload)
		}
		return true
	}
	id, err := ctx.Spawn(echo, nil, nil, 8)
	if err != nil {
		log.Warn("spawning echo demo", "err", err)
		return
	}
	_ = ctx.RegisterName("echo", id)
}

// spawnHTTPDemo wires spec §8 scenarios 2-4: a server actor that answers
// "200 hello" to plain HTTP requests, echoes whatever a WebSocket peer
// sends, and streams two SSE events to any SSE client that connects.
func spawnHTTPDemo(ctx *kernel.Context, rt *runtime.Runtime, port int, log *slog.Logger) {
	server := func(ctx *kernel.Context, msg kernel.Message) bool {
		switch msg.Type {
		case proto.MsgHTTPRequest:
			req, err := proto.DecodeHTTPRequest(msg.Payload)
			if err != nil {
				return true
			}
			switch {
			case req.Headers["upgrade"] == "websocket":
				accept := conn.WSAcceptKey(req.Headers["sec-websocket-key"])
				_ = ctx.HTTPRespond(req.ConnID, 101, map[string]string{
					"Upgrade":              "websocket",
					"Connection":           "Upgrade",
					"Sec-WebSocket-Accept": accept,
				}, nil)
			case req.Path == "/events":
				_ = ctx.SSEStart(req.ConnID)
				_ = ctx.SSEPush(req.ConnID, "", []byte("event1"))
				_ = ctx.SSEPush(req.ConnID, "", []byte("event2"))
			default:
				_ = ctx.HTTPRespond(req.ConnID, 200, map[string]string{"Content-Type": "text/plain"}, []byte("hello"))
			}
		case proto.MsgWSMessage:
			wsm, err := proto.DecodeWSMessage(msg.Payload)
			if err != nil {
				return true
			}
			if wsm.IsBinary {
				_ = ctx.WSSendBinary(wsm.ConnID, wsm.Data)
			} else {
				_ = ctx.WSSendText(wsm.ConnID, wsm.Data)
			}
		}
		return true
	}

	id, err := ctx.Spawn(server, nil, nil, 64)
	if err != nil {
		log.Warn("spawning http demo", "err", err)
		return
	}
	// The listener must be owned by the server actor itself so incoming
	// HTTP/WS/SSE events are delivered to it, not to the bootstrap actor.
	if _, err := rt.NewContext(id).HTTPListen(port); err != nil {
		log.Warn("listening", "port", port, "err", err)
	}
	_ = ctx.RegisterName("http-server", id)
}

// spawnSupervisedDemo wires spec §8 scenarios 5-6: a one-for-one
// supervisor over a single Permanent child that persists a counter via
// the state store across restarts.
func spawnSupervisedDemo(ctx *kernel.Context, rt *runtime.Runtime, store state.Store, log *slog.Logger) {
	const childName = "counter"
	childBehavior := func(ctx *kernel.Context, msg kernel.Message) bool {
		n, _ := ctx.State().(int)
		n++
		_ = store.Put(childName, "count", []byte{byte(n)})
		return msg.Type != 0xFFFF // a sentinel type makes the child exit (normally) on purpose for the restart demo
	}
	spec := supervisor.ChildSpec{
		Name:     childName,
		Behavior: childBehavior,
		StateFactory: func() any {
			if raw, ok, _ := store.Get(childName, "count"); ok && len(raw) == 1 {
				return int(raw[0])
			}
			return 0
		},
		MailboxSize: 8,
		Restart:     supervisor.Permanent,
	}

	sup := supervisor.New(supervisor.OneForOne, 5, 10_000, []supervisor.ChildSpec{spec}, nowMillis)
	// A SQL-backed store doubles as the durable restart audit trail; the
	// fs backend has no restart_events table, so the supervisor just
	// keeps its in-memory ring in that case.
	if sqlStore, ok := store.(*state.SQLStore); ok {
		sup.WithRecorder("counter-sup", sqlStore)
	}
	supID, err := ctx.Spawn(sup.Behavior(), nil, nil, 16)
	if err != nil {
		log.Warn("spawning supervisor demo", "err", err)
		return
	}
	// Start must run with self() == the supervisor itself (its children's
	// Parent is recorded as the Spawn caller), not the bootstrap actor.
	if err := sup.Start(rt.NewContext(supID)); err != nil {
		log.Warn("starting supervisor demo", "err", err)
	}
}

func nowMillis() int64 { return time.Now().UnixMilli() }
