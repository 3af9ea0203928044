package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/automerge/automerge-go"
	"github.com/spf13/cobra"

	"github.com/tracksuite/collabsync/pkg/database"
	"github.com/tracksuite/collabsync/pkg/docstore"
	"github.com/tracksuite/collabsync/pkg/docviz"
)

type InspectOptions struct {
	DB   string
	Out  string
	Path []string
}

// NewInspectCommand renders the change history of a persisted document as an
// SVG, for diagnosing divergence and merge behavior after the fact.
func NewInspectCommand(_ *RootOptions) *cobra.Command {
	opts := &InspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect <document>",
		Short: "Render a document's change history to SVG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "collabsync.sqlite3", "database DSN (postgres://... or a sqlite file)")
	cmd.Flags().StringVar(&opts.Out, "out", "", "output path (defaults to <document>.svg)")
	cmd.Flags().StringSliceVar(&opts.Path, "path", nil, "document path to label nodes with")

	return cmd
}

func runInspect(opts *InspectOptions, docID string) error {
	db, err := database.Open(opts.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	raw, err := docstore.NewSQLStore(db).Load(context.Background(), docID)
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("document %s has no persisted state", docID)
	}
	doc, err := automerge.Load(raw)
	if err != nil {
		return fmt.Errorf("failed to load document %s: %w", docID, err)
	}

	out := opts.Out
	if out == "" {
		out = docID + ".svg"
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := docviz.RenderHistory(doc, opts.Path, f); err != nil {
		return err
	}
	slog.Info("rendered", "doc", docID, "heads", doc.Heads(), "path", "file://"+out)
	return nil
}
