package serve

import (
	"context"
	"fmt"

	"github.com/compozy/policychat/cli/helpers"
	"github.com/compozy/policychat/engine/chat"
	"github.com/compozy/policychat/engine/infra/monitoring"
	"github.com/compozy/policychat/engine/infra/server"
	"github.com/compozy/policychat/engine/knowledge/answer"
	"github.com/compozy/policychat/engine/knowledge/embedder"
	"github.com/compozy/policychat/engine/knowledge/retriever"
	"github.com/compozy/policychat/engine/knowledge/vectordb"
	llmadapter "github.com/compozy/policychat/engine/llm/adapter"
	"github.com/compozy/policychat/pkg/config"
	"github.com/compozy/policychat/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const productionEnvironment = "production"

// NewServeCommand creates the command that serves the chat API.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start", "server"},
		Short:   "Serve the policy chat HTTP API",
		Long: `Start the HTTP server exposing POST /chat, GET /health and GET /.
The vector index must already be populated by "policychat ingest".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := helpers.RequireConfig(cmd.Context())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String("host", "", "Host interface to bind")
	cmd.Flags().Int("port", 0, "Port to listen on")
	cmd.Flags().Int("top-k", 0, "Number of passages retrieved per question")
	cmd.Flags().Bool("metrics", false, "Expose Prometheus metrics")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.FromContext(ctx)
	if cfg.Runtime.Environment == productionEnvironment {
		gin.SetMode(gin.ReleaseMode)
	}
	mon := monitoring.NewMonitoringServiceWithFallback(ctx, monitoring.FromAppConfig(cfg))
	mon.SetAsGlobal()
	store, err := helpers.OpenVectorStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to close vector store", "error", err)
		}
	}()
	chatSvc, client, err := NewChatService(cfg, store)
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn("Failed to close chat client", "error", err)
		}
	}()
	log.Info("Starting policy chat server",
		"index", cfg.VectorDB.Index,
		"vector_db", cfg.VectorDB.Provider,
		"chat_model", cfg.Chat.Model,
		"embedding_model", cfg.Embedder.Model,
		"top_k", cfg.Retrieval.TopK)
	srv, err := server.NewServer(ctx, cfg, server.Deps{
		Chat:       chatSvc,
		Index:      store,
		Monitoring: mon,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Run()
}

// NewChatService wires embedder, retriever, chat client and answer generator over store.
// The returned client must be closed by the caller.
func NewChatService(cfg *config.Config, store vectordb.Store) (*chat.Service, llmadapter.LLMClient, error) {
	emb, err := embedder.New(&cfg.Embedder)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	ret, err := retriever.NewService(emb, store, cfg.Retrieval.TopK)
	if err != nil {
		return nil, nil, err
	}
	client, err := llmadapter.NewClient(&cfg.Chat)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chat client: %w", err)
	}
	gen, err := answer.NewGenerator(client, answer.Options{Temperature: cfg.Chat.Temperature})
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	svc, err := chat.NewService(ret, gen)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return svc, client, nil
}
