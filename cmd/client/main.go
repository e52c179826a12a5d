package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quickchat/quickchat/internal/client"
	"github.com/quickchat/quickchat/internal/log"
	"github.com/quickchat/quickchat/internal/utils"
)

var (
	serverURL string
	roomID    string
	name      string
	statePath string
	logLevel  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quickchat-client",
		Short: "Terminal client for a quickchat room",
		RunE:  runClient,
	}

	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "server base URL")
	rootCmd.Flags().StringVarP(&roomID, "room", "r", "", "room to join (default: resume last room, or create a new one)")
	rootCmd.Flags().StringVarP(&name, "name", "n", "", "display name")
	rootCmd.Flags().StringVar(&statePath, "state", "", "path to the session snapshot file (disabled when empty)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "error", "log level")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printer renders confirmed messages exactly once, in store order. Message
// ids are only unique within a room, so the printed set is keyed by room+id
// or a room switch would suppress the new room's messages.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	store   *client.MessageStore
	printed map[string]struct{}
}

func (p *printer) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.store.Messages() {
		key := m.Room + "/" + m.ID
		if _, done := p.printed[key]; done {
			continue
		}
		p.printed[key] = struct{}{}
		if m.Attachment != nil {
			fmt.Fprintf(p.out, "[%s] %s: %s (%s %s)\n", m.CreatedAt.Local().Format("15:04:05"), m.Author, m.Body, m.Attachment.Name, m.Attachment.URL)
		} else {
			fmt.Fprintf(p.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), m.Author, m.Body)
		}
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	logger := log.New(logLevel)

	store := client.NewMessageStore()

	// Resume the previous session from the snapshot, flags win over it.
	if statePath != "" {
		state, err := client.LoadState(statePath)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		if roomID == "" {
			roomID = state.Room
		}
		if name == "" {
			name = state.Name
		}
		store.ReplaceAll(state.Messages)
	}
	if name == "" {
		return fmt.Errorf("a display name is required (use --name or resume via --state)")
	}
	if roomID == "" {
		roomID = utils.NewRoomID()
		fmt.Printf("created room %s, share this id to invite others\n", roomID)
	}

	conn := client.New(client.Options{
		URL:    client.WSURL(serverURL),
		Logger: logger,
		OnPresence: func(event, room, user string) {
			switch event {
			case "user_joined":
				fmt.Printf("* %s joined %s\n", user, room)
			case "user_left":
				fmt.Printf("* %s left %s\n", user, room)
			}
		},
		OnServerError: func(code, msg string) {
			fmt.Printf("! server error (%s): %s\n", code, msg)
		},
		OnDisconnect: func(err error) {
			fmt.Println("! connection lost, use /reconnect to resume")
		},
	}, store)

	p := &printer{out: os.Stdout, store: store, printed: make(map[string]struct{})}
	store.SetOnChange(func() {
		p.flush()
		if statePath != "" {
			if err := client.SaveState(statePath, client.Snapshot(conn, store)); err != nil {
				logger.Warn().Err(err).Msg("failed to persist snapshot")
			}
		}
	})
	p.flush() // show the resumed history before connecting

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	defer conn.Disconnect()

	if err := conn.JoinRoom(ctx, roomID, name); err != nil {
		return fmt.Errorf("join %s: %w", roomID, err)
	}
	fmt.Printf("joined %s as %s\n", roomID, name)

	return repl(ctx, conn, serverURL)
}

func repl(ctx context.Context, conn *client.Conn, baseURL string) error {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := handleLine(ctx, conn, baseURL, line); err != nil {
				if err == errQuit {
					return nil
				}
				fmt.Printf("! %v\n", err)
			}
		}
	}
}

var errQuit = fmt.Errorf("quit")

func handleLine(ctx context.Context, conn *client.Conn, baseURL, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		_, err := conn.Send(ctx, line, nil)
		return err
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/exit":
		return errQuit
	case "/join":
		if rest == "" {
			return fmt.Errorf("usage: /join <room>")
		}
		_, currentName := conn.Session()
		if err := conn.JoinRoom(ctx, rest, currentName); err != nil {
			return err
		}
		fmt.Printf("joined %s\n", rest)
		return nil
	case "/reconnect":
		return conn.Reconnect(ctx)
	case "/file":
		if rest == "" {
			return fmt.Errorf("usage: /file <path> [caption]")
		}
		path, caption, _ := strings.Cut(rest, " ")
		return sendFile(ctx, conn, baseURL, path, strings.TrimSpace(caption))
	default:
		return fmt.Errorf("unknown command %s (try /join, /file, /reconnect, /quit)", cmd)
	}
}

func sendFile(ctx context.Context, conn *client.Conn, baseURL, path, caption string) error {
	att, err := client.UploadFile(ctx, baseURL, path)
	if err != nil {
		return err
	}
	_, err = conn.Send(ctx, caption, att)
	return err
}
