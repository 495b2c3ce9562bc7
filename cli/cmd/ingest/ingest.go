package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/compozy/policychat/cli/helpers"
	"github.com/compozy/policychat/engine/knowledge/embedder"
	knowledgeingest "github.com/compozy/policychat/engine/knowledge/ingest"
	"github.com/compozy/policychat/engine/knowledge/vectordb"
	"github.com/compozy/policychat/pkg/config"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
)

const (
	flagYes   = "yes"
	flagWatch = "watch"
)

// ErrLocked reports another ingestion run holding the index lock.
var ErrLocked = errors.New("ingestion already running for this index")

// NewIngestCommand creates the offline ingestion command.
func NewIngestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Rebuild the vector index from a directory of PDF documents",
		Long: `Load every PDF matching the pattern, split pages into overlapping chunks,
embed them and upload them to a freshly recreated index.
The existing index is deleted first; pass --yes to acknowledge this.`,
		Example: `  policychat ingest --dir ./data --index policy-documents --yes
  policychat ingest --dir ./data --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := helpers.RequireConfig(cmd.Context())
			if err != nil {
				return err
			}
			yes, err := cmd.Flags().GetBool(flagYes)
			if err != nil {
				return err
			}
			watch, err := cmd.Flags().GetBool(flagWatch)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout(), yes, watch)
		},
	}
	cmd.Flags().String("dir", "", "Directory containing the source PDFs")
	cmd.Flags().String("pattern", "", "Glob selecting documents inside --dir (doublestar syntax)")
	cmd.Flags().Int("chunk-size", 0, "Maximum characters per chunk")
	cmd.Flags().Int("chunk-overlap", 0, "Characters shared by adjacent chunks")
	cmd.Flags().Int("batch-size", 0, "Chunks per upload batch")
	cmd.Flags().Int("embed-concurrency", 0, "Concurrent embedding batches")
	cmd.Flags().BoolP(flagYes, "y", false, "Acknowledge that the index is deleted and rebuilt")
	cmd.Flags().Bool(flagWatch, false, "Re-run ingestion when documents change")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, out io.Writer, yes bool, watch bool) error {
	log := logger.FromContext(ctx)
	lock, err := acquireLock(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("Failed to release ingestion lock", "path", lock.Path(), "error", err)
		}
	}()
	if !yes {
		log.Warn("Ingestion deletes and recreates the index; queries fail until it completes",
			"index", cfg.VectorDB.Index,
			"vector_db", cfg.VectorDB.Provider)
	}
	store, err := helpers.OpenVectorStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to close vector store", "error", err)
		}
	}()
	emb, err := embedder.New(&cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	ingestOnce := func(ctx context.Context) error {
		return runPipeline(ctx, cfg, emb, store, out)
	}
	if err := ingestOnce(ctx); err != nil {
		if !watch {
			return err
		}
		log.Error("Ingestion failed, waiting for changes", "error", err)
	}
	if !watch {
		return nil
	}
	return Watch(ctx, cfg.Ingest.Dir, cfg.Ingest.Pattern, cfg.Ingest.WatchDebounce, ingestOnce)
}

func runPipeline(
	ctx context.Context,
	cfg *config.Config,
	emb embedder.Embedder,
	store vectordb.Store,
	out io.Writer,
) error {
	pipeline, err := knowledgeingest.NewPipeline(
		knowledgeingest.NewPDFLoader(),
		emb,
		store,
		knowledgeingest.OptionsFromConfig(cfg),
	)
	if err != nil {
		return err
	}
	result, runErr := pipeline.Run(ctx)
	if err := helpers.PrintIngestSummary(out, result, runErr); err != nil {
		logger.FromContext(ctx).Warn("Failed to print ingestion summary", "error", err)
	}
	return runErr
}

// acquireLock takes the per-index file lock without blocking.
func acquireLock(cfg *config.Config) (*flock.Flock, error) {
	dir := cfg.Ingest.LockDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, fmt.Sprintf("policychat-%s-%s.lock", cfg.VectorDB.Provider, cfg.VectorDB.Index))
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: index %q (lock %s)", ErrLocked, cfg.VectorDB.Index, path)
	}
	return lock, nil
}
