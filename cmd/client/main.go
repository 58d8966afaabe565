package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/code-100-precent/LingClassroom/cmd/bootstrap"
	"github.com/code-100-precent/LingClassroom/pkg/config"
	"github.com/code-100-precent/LingClassroom/pkg/logger"
	"github.com/code-100-precent/LingClassroom/pkg/notification"
	"github.com/code-100-precent/LingClassroom/pkg/room"
	"github.com/code-100-precent/LingClassroom/pkg/session"
	"github.com/code-100-precent/LingClassroom/pkg/websocket"
	"go.uber.org/zap"
)

func main() {
	mode := flag.String("mode", "", "running environment (development, test, production)")
	user := flag.String("user", "", "identity to connect as (required)")
	roomID := flag.String("room", "general", "room to join")
	name := flag.String("name", "", "display name for chat messages (defaults to -user)")
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		flag.Usage()
		os.Exit(2)
	}
	if *name == "" {
		*name = *user
	}
	if *mode != "" {
		os.Setenv("APP_ENV", *mode)
	}

	if err := config.Load(); err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	cfg := config.GlobalConfig
	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()
	bootstrap.LogConfigInfo(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := session.New(cfg, *user)
	if err != nil {
		logger.Fatal("session setup failed", zap.Error(err))
	}
	defer s.Close()

	c := &console{out: os.Stdout, name: *name, session: s}
	if err := c.wire(*roomID); err != nil {
		logger.Fatal("session wiring failed", zap.Error(err))
	}

	if err := s.Start(ctx); err != nil {
		// the connection manager keeps retrying in the background
		logger.Warn("initial connect failed", zap.Error(err))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || !c.handle(ctx, line) {
				return
			}
		}
	}
}

// console renders session events as text and turns input lines into commands.
type console struct {
	out     io.Writer
	name    string
	session *session.Session
	refresh func(context.Context) bool

	mu    sync.Mutex
	room  *room.Channel
	shown int
}

func (c *console) wire(roomID string) error {
	s := c.session
	s.Conn().OnStateChange(func(ev websocket.StateEvent) {
		fmt.Fprintf(c.out, "* connection %s -> %s\n", ev.Old, ev.New)
		if ev.New == websocket.StateOpen {
			if ch := c.current(); ch != nil {
				ch.Join()
			}
		}
	})
	s.Notifications().Subscribe(func(ev notification.Event) {
		if ev.Kind == notification.EventAdded {
			n := ev.Notification
			fmt.Fprintf(c.out, "! [%s] %s %s\n", n.Type, n.Title, n.Message)
		}
	})

	p, err := s.Projector(nil)
	if err != nil {
		return err
	}
	p.OnChange(func(snapshot []byte) {
		fmt.Fprintf(c.out, "# dashboard %s\n", snapshot)
	})
	c.refresh = p.Refresh

	return c.switchRoom(roomID)
}

func (c *console) current() *room.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

func (c *console) switchRoom(roomID string) error {
	if ch := c.current(); ch != nil {
		c.mu.Lock()
		c.shown = 0
		c.mu.Unlock()
		fmt.Fprintf(c.out, "* switching to room %s\n", roomID)
		ch.Switch(roomID)
		return nil
	}
	ch, err := c.session.Room(roomID)
	if err != nil {
		return err
	}
	ch.OnChange(c.render)
	c.mu.Lock()
	c.room = ch
	c.mu.Unlock()
	c.render(ch.View())
	return nil
}

// render prints entries that have not been shown yet.
func (c *console) render(view []room.ChatEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shown > len(view) {
		c.shown = 0
	}
	for _, e := range view[c.shown:] {
		marker := " "
		if e.IsOwn {
			marker = ">"
		}
		fmt.Fprintf(c.out, "%s %s: %s\n", marker, e.Sender, e.Message)
	}
	c.shown = len(view)
}

// handle runs one input line; false means quit.
func (c *console) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
	case line == "/quit":
		return false
	case line == "/refresh":
		if !c.refresh(ctx) {
			fmt.Fprintln(c.out, "* refresh failed, keeping previous dashboard")
		}
	case strings.HasPrefix(line, "/room "):
		if err := c.switchRoom(strings.TrimSpace(strings.TrimPrefix(line, "/room "))); err != nil {
			fmt.Fprintf(c.out, "* %v\n", err)
		}
	case line == "/clear":
		c.session.Notifications().Clear()
	default:
		if !c.current().SendChatMessage(line, c.name) {
			fmt.Fprintln(c.out, "* not connected, message dropped")
		}
	}
	return true
}
