package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tracksuite/collabsync/pkg/database"
	"github.com/tracksuite/collabsync/pkg/permission"
)

type SeedOptions struct {
	DB string
}

// NewSeedCommand inserts a small fixture data set so the server can be
// exercised without the CRUD application: three users with the three roles,
// one project, one page (document id "1").
func NewSeedCommand(_ *RootOptions) *cobra.Command {
	opts := &SeedOptions{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert development fixture data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "collabsync.sqlite3", "database DSN (postgres://... or a sqlite file)")

	return cmd
}

func runSeed(opts *SeedOptions) error {
	ctx := context.Background()
	db, err := database.Open(opts.DB)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return err
	}

	conflict := ` ON CONFLICT DO NOTHING`
	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO users (id, username) VALUES (?, ?)`, []any{1, "alice"}},
		{`INSERT INTO users (id, username) VALUES (?, ?)`, []any{2, "bob"}},
		{`INSERT INTO users (id, username) VALUES (?, ?)`, []any{3, "carol"}},
		{`INSERT INTO projects (id, name) VALUES (?, ?)`, []any{1, "demo"}},
		{`INSERT INTO project_members (projectid, userid, role) VALUES (?, ?, ?)`, []any{1, 1, permission.RoleManager}},
		{`INSERT INTO project_members (projectid, userid, role) VALUES (?, ?, ?)`, []any{1, 2, permission.RoleEditor}},
		{`INSERT INTO project_members (projectid, userid, role) VALUES (?, ?, ?)`, []any{1, 3, permission.RoleViewer}},
		{`INSERT INTO pages (id, projectid, name) VALUES (?, ?, ?)`, []any{1, 1, "Board"}},
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, db.Rebind(stmt.query+conflict), stmt.args...); err != nil {
			return err
		}
	}
	slog.Info("seeded fixtures", "users", 3, "projects", 1, "pages", 1)
	return nil
}
