package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/tracksuite/collabsync/pkg/session"
)

type ClientOptions struct {
	Addr      string
	JWTSecret string
	User      int64
	Cookie    string
	Sets      []string
	Follow    bool
}

// NewClientCommand is a headless collaborator for smoke-testing a running
// server: it attaches to a document, applies a few edits, and optionally
// stays connected printing the merged state as peers edit.
func NewClientCommand(_ *RootOptions) *cobra.Command {
	opts := &ClientOptions{}

	cmd := &cobra.Command{
		Use:   "client <document>",
		Short: "Connect to a document and apply edits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "localhost:8080", "the server address")
	cmd.Flags().StringVar(&opts.JWTSecret, "jwt-secret", "", "HS256 secret to mint a token with")
	cmd.Flags().Int64Var(&opts.User, "user", 0, "user id to mint the token for")
	cmd.Flags().StringVar(&opts.Cookie, "cookie", "", "raw session cookie to authenticate with instead of a token")
	cmd.Flags().StringArrayVar(&opts.Sets, "set", nil, "key=value pairs to set on the document root")
	cmd.Flags().BoolVar(&opts.Follow, "follow", false, "stay connected and print the state as it changes")

	return cmd
}

func runClient(opts *ClientOptions, docID string) error {
	u := url.URL{Scheme: "ws", Host: opts.Addr, Path: "/collaboration/" + docID}
	header := http.Header{}
	if opts.JWTSecret != "" {
		token, err := session.Mint([]byte(opts.JWTSecret), opts.User, time.Hour)
		if err != nil {
			return err
		}
		u.RawQuery = url.Values{"token": {token}}.Encode()
	} else if opts.Cookie != "" {
		header.Set("Cookie", opts.Cookie)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	defer conn.Close()

	// The first message is the full snapshot.
	mt, snapshot, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read snapshot (unauthorized?): %w", err)
	}
	if mt != websocket.BinaryMessage {
		return fmt.Errorf("unexpected handshake message type %d", mt)
	}
	doc, err := automerge.Load(snapshot)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	slog.Info("attached", "doc", docID, "heads", doc.Heads())
	slog.Info(doc.RootMap().GoString())

	for _, set := range opts.Sets {
		key, value, found := strings.Cut(set, "=")
		if !found {
			return fmt.Errorf("invalid --set %q, want key=value", set)
		}
		if err := doc.Path(key).Set(value); err != nil {
			return fmt.Errorf("failed to set %q: %w", key, err)
		}
	}
	if len(opts.Sets) > 0 {
		delta := doc.SaveIncremental()
		if err := conn.WriteMessage(websocket.BinaryMessage, delta); err != nil {
			return fmt.Errorf("failed to send update: %w", err)
		}
		slog.Info("sent update", "heads", doc.Heads())
	}

	if !opts.Follow {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		for {
			mt, payload, err := conn.ReadMessage()
			if err != nil {
				done <- err
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			if err := doc.LoadIncremental(payload); err != nil {
				slog.Error("failed to apply broadcast", "err", err)
				continue
			}
			slog.Info(doc.RootMap().GoString())
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("signal caught", "sig", sig)
		return nil
	case err := <-done:
		return fmt.Errorf("connection closed: %w", err)
	}
}
