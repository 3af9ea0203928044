package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tracksuite/collabsync/pkg/authz"
	"github.com/tracksuite/collabsync/pkg/database"
	"github.com/tracksuite/collabsync/pkg/docstore"
	"github.com/tracksuite/collabsync/pkg/engine"
	"github.com/tracksuite/collabsync/pkg/permission"
	"github.com/tracksuite/collabsync/pkg/server"
	"github.com/tracksuite/collabsync/pkg/session"
)

type ServeOptions struct {
	Addr          string
	DB            string
	RedisURL      string
	RedisPrefix   string
	SessionCookie string
	JWTSecret     string
	SaveInterval  time.Duration
}

func NewServeCommand(_ *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collaboration server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "localhost:8080", "the address to listen on")
	cmd.Flags().StringVar(&opts.DB, "db", "collabsync.sqlite3", "database DSN (postgres://... or a sqlite file)")
	cmd.Flags().StringVar(&opts.RedisURL, "redis-url", "", "redis URL of the web session store (optional)")
	cmd.Flags().StringVar(&opts.RedisPrefix, "redis-prefix", "projectmanagementapp:", "key prefix of stored web sessions")
	cmd.Flags().StringVar(&opts.SessionCookie, "session-cookie", "connect.sid", "name of the web session cookie")
	cmd.Flags().StringVar(&opts.JWTSecret, "jwt-secret", "", "HS256 secret for token authentication (optional)")
	cmd.Flags().DurationVar(&opts.SaveInterval, "save-interval", 5*time.Second, "how often dirty documents are persisted")

	return cmd
}

func runServe(opts *ServeOptions) error {
	logger := slog.Default()

	slog.Info("opening database", "dsn", opts.DB)
	db, err := database.Open(opts.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.EnsureSchema(context.Background()); err != nil {
		return err
	}

	resolvers := make([]session.Resolver, 0, 2)
	if opts.RedisURL != "" {
		ropts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(ropts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		defer client.Close()
		resolvers = append(resolvers, session.NewRedisResolver(client, opts.SessionCookie, opts.RedisPrefix))
	}
	if opts.JWTSecret != "" {
		resolvers = append(resolvers, session.NewTokenResolver([]byte(opts.JWTSecret)))
	}
	if len(resolvers) == 0 {
		return errors.New("no identity source configured: set --redis-url and/or --jwt-secret")
	}

	eng := engine.New(engine.Config{
		Store:        docstore.NewSQLStore(db),
		Authorizer:   authz.New(permission.NewSQLOracle(db), logger),
		Logger:       logger,
		SaveInterval: opts.SaveInterval,
	})
	srv := server.New(eng, session.NewChain(logger, resolvers...), logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()

	httpServer := &http.Server{Addr: opts.Addr, Handler: srv.Router()}

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", opts.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("signal caught", "sig", sig)
	cancel()
	_ = httpServer.Close()

	wg.Wait()
	return nil
}
