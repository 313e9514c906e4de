package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pketo/docchat/internal/chunk"
	"github.com/pketo/docchat/internal/config"
	"github.com/pketo/docchat/internal/embed"
	"github.com/pketo/docchat/internal/extract"
	"github.com/pketo/docchat/internal/logger"
	"github.com/pketo/docchat/internal/rag"
	"github.com/pketo/docchat/internal/search"
	"github.com/pketo/docchat/internal/store"
	"github.com/pketo/docchat/internal/version"
	"github.com/pketo/docchat/internal/web"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "docchat",
	Short:   "Retrieval-augmented Q&A over uploaded documents",
	Version: version.Full(),
	Long: `docchat answers natural-language questions over a corpus of uploaded
documents. Documents are split into overlapping chunks, embedded with a
configurable provider and stored alongside their vectors; questions are
answered by ranking chunks by cosine similarity and conditioning a chat
model on the best matches.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir> [more...]",
	Short: "Ingest documents from the local filesystem",
	Long: `Ingest one or more documents. Directories are ingested file by file,
skipping anything with an unsupported suffix. Re-ingesting a document
name replaces its previous chunks entirely.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List stored documents",
	RunE:  runDocuments,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <document-name>",
	Short: "Delete all chunks of one document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every stored chunk",
	RunE:  runClear,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available from the configured provider",
	RunE:  runModels,
}

func init() {
	serveCmd.Flags().String("host", "", "bind address (overrides config)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	serveCmd.Flags().String("watch", "", "directory to watch for automatic ingestion")
	clearCmd.Flags().Bool("yes", false, "skip the confirmation prompt")

	rootCmd.AddCommand(serveCmd, ingestCmd, documentsCmd, deleteCmd, clearCmd, modelsCmd)
}

// app bundles everything the commands need.
type app struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	store    *store.SQLite
	provider embed.Provider
	ingestor *rag.Ingestor
}

func newApp() (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, err
	}

	st, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	provider, err := embed.New(cfg.Embedding)
	if err != nil {
		st.Close()
		return nil, err
	}
	splitter, err := chunk.NewSplitter(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		store:    st,
		provider: provider,
		ingestor: rag.NewIngestor(splitter, provider, st, log),
	}, nil
}

func (a *app) close() {
	a.store.Close()
	_ = a.log.Sync()
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if host, _ := cmd.Flags().GetString("host"); host != "" {
		a.cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		a.cfg.Server.Port = port
	}

	generator, err := rag.NewGenerator(a.cfg)
	if err != nil {
		return err
	}
	retriever := rag.NewRetriever(a.provider, a.store, search.NewCosineRanker(), a.log)
	handler := web.NewHandler(a.ingestor, retriever, generator, a.store, a.provider, a.cfg.Chat.Model, a.log)
	server := web.NewServer(a.cfg.Server, handler, a.log)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		a.log.Info("shutting down")
		cancel()
	}()

	if watchDir, _ := cmd.Flags().GetString("watch"); watchDir != "" {
		watcher, err := rag.NewWatcher(a.ingestor, watchDir, rag.DefaultWatcherConfig(), a.log)
		if err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Errorw("watcher stopped", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		return server.Shutdown(shutdownCtx)
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	files, err := collectDocuments(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no supported documents found")
	}

	ctx := cmd.Context()
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		result, err := a.ingestor.Ingest(ctx, data, filepath.Base(path))
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		fmt.Printf("%s: %d chunks\n", result.DocumentName, result.ChunksCreated)
	}
	return nil
}

func runDocuments(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	docs, err := a.store.ListDocuments(cmd.Context())
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("No documents stored.")
		return nil
	}
	for _, d := range docs {
		fmt.Printf("%-40s %5d chunks  updated %s\n", d.Name, d.ChunkCount, d.LastUpdated.Format("2006-01-02 15:04"))
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	deleted, err := a.ingestor.Delete(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if deleted == 0 {
		return fmt.Errorf("document %q not found", args[0])
	}
	fmt.Printf("Deleted %d chunks of %s\n", deleted, args[0])
	return nil
}

func runClear(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		fmt.Print("This deletes ALL stored chunks. Continue? (yes/no): ")
		var answer string
		fmt.Scanln(&answer)
		if answer != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	deleted, err := a.store.Clear(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Cleared %d chunks\n", deleted)
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	clientCfg := openai.DefaultConfig(cfg.Embedding.APIKey)
	if cfg.Embedding.BaseURL != "" {
		clientCfg.BaseURL = cfg.Embedding.BaseURL
	}
	client := openai.NewClientWithConfig(clientCfg)

	models, err := client.ListModels(cmd.Context())
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models.Models {
		fmt.Println(m.ID)
	}
	return nil
}

// collectDocuments expands the given paths into supported document files.
func collectDocuments(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			full := filepath.Join(path, entry.Name())
			if supportedDocument(full) {
				files = append(files, full)
			}
		}
	}
	return files, nil
}

func supportedDocument(path string) bool {
	_, err := extract.DetectFormat(path)
	return err == nil
}
