package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/akhenakh/rankfuse/internal/config"
	"github.com/akhenakh/rankfuse/internal/fusion"
	"github.com/akhenakh/rankfuse/internal/ingest"
	"github.com/akhenakh/rankfuse/internal/llm"
	"github.com/akhenakh/rankfuse/internal/mcpserver"
	"github.com/akhenakh/rankfuse/internal/pipeline"
	"github.com/akhenakh/rankfuse/internal/report"
	"github.com/akhenakh/rankfuse/internal/store"
	"github.com/akhenakh/rankfuse/internal/util"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/textsplitter"
)

var (
	// Flags
	configPath string
	dbPath     string
	collection string

	ollamaURL string
	modelName string
	embedDim  int

	localMode      bool
	localModelPath string
	localLibPath   string
	saveConfig     bool

	backendName string
	jsonOut     bool
	pretty      bool
	diagnostics bool
	failFast    bool
	workers     int
	cutoff      int

	algorithmName string
	limit         int

	// Global instances
	globalConfig *config.Config
	logger       *slog.Logger
)

func openStore() (*store.Store, error) {
	s, err := store.NewStore(globalConfig.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", globalConfig.DBPath, err)
	}
	return s, nil
}

func getEmbedder() (llm.Embedder, error) {
	emb := globalConfig.Embedding
	prefixes := llm.Prefixes{Query: emb.QueryPrefix, Passage: emb.PassagePrefix}
	if emb.UseLocal {
		if emb.LocalModelPath == "" {
			return nil, fmt.Errorf("local mode enabled but local_model_path is missing")
		}
		if emb.LocalLibPath == "" && os.Getenv("YZMA_LIB") != "" {
			emb.LocalLibPath = os.Getenv("YZMA_LIB")
		}
		if emb.LocalLibPath == "" {
			return nil, fmt.Errorf("local mode enabled but local_lib_path is missing")
		}
		logger.Info("loading local model", "path", emb.LocalModelPath)
		return llm.NewLocalClient(emb.LocalModelPath, emb.LocalLibPath, prefixes)
	}
	return llm.NewHTTPClient(emb.OllamaURL, emb.ModelName, emb.EmbedDimensions, prefixes), nil
}

func generateEmbeddings(ctx context.Context, s *store.Store) error {
	embedder, err := getEmbedder()
	if err != nil {
		return err
	}
	defer embedder.Close()

	if err := s.EnsureVectorTable(globalConfig.Embedding.EmbedDimensions); err != nil {
		return err
	}

	pending, err := s.GetPendingEmbeddings()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No pending embeddings.")
		return nil
	}

	fmt.Printf("Generating embeddings for %d passages (Dim: %d)...\n", len(pending), globalConfig.Embedding.EmbedDimensions)

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(globalConfig.Embedding.ChunkSize),
		textsplitter.WithChunkOverlap(globalConfig.Embedding.ChunkOverlap),
	)

	failed := 0
	for hash, content := range pending {
		chunks, err := splitter.SplitText(content)
		if err != nil {
			logger.Warn("split failed", "hash", hash, "error", err)
			failed++
			continue
		}

		for i, chunk := range chunks {
			vec, err := embedder.Embed(ctx, chunk, llm.RolePassage)
			if err != nil {
				logger.Warn("embedding failed", "hash", hash, "chunk", i, "error", err)
				failed++
				continue
			}
			if err := s.SaveEmbedding(hash, i, vec); err != nil {
				return err
			}
		}
		fmt.Print(".")
	}
	fmt.Println("\nDone.")
	if failed > 0 {
		fmt.Printf("%d chunks could not be embedded, rerun embed to retry.\n", failed)
	}
	return nil
}

func signals() ([]pipeline.Signal, error) {
	weights := globalConfig.Weights()
	out := make([]pipeline.Signal, len(globalConfig.Signals))
	for i, s := range globalConfig.Signals {
		mode, err := pipeline.ParseMode(s.Mode)
		if err != nil {
			return nil, err
		}
		out[i] = pipeline.Signal{Name: s.Name, Mode: mode, Weight: weights[i]}
	}
	return out, nil
}

// hybridWeights returns the configured weight of the first lexical and the
// first vector signal, for hybrid queries.
func hybridWeights(cfg *config.Config) (lexical, vector float64) {
	weights := cfg.Weights()
	lexical, vector = 1, 1
	seenLexical, seenVector := false, false
	for i, s := range cfg.Signals {
		switch {
		case s.Mode == config.ModeLexical && !seenLexical:
			lexical, seenLexical = weights[i], true
		case s.Mode == config.ModeVector && !seenVector:
			vector, seenVector = weights[i], true
		}
	}
	return lexical, vector
}

// truncateRunes cuts s to at most n runes, marking the cut with "...".
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// fuseRequest is the JSON document read by the fuse command.
type fuseRequest struct {
	Lists     []fusion.ScoreList `json:"lists"`
	Weights   []float64          `json:"weights,omitempty"`
	Algorithm string             `json:"algorithm,omitempty"`
	K         float64            `json:"k,omitempty"`
}

func readInput(arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(arg)
}

func main() {
	var rootCmd = &cobra.Command{
		Use:           "rankfuse",
		Short:         "Rank fusion and NDCG evaluation for hybrid retrieval",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				p, err := config.GetConfigPath()
				if err != nil {
					return err
				}
				configPath = p
			}

			var err error
			globalConfig, err = config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config %s: %w", configPath, err)
			}
			if cmd.Flags().Changed("db") {
				globalConfig.DBPath = dbPath
			}

			// stdout carries command output, logs go to stderr
			logger = util.NewLogger(os.Stderr, globalConfig.LogLevel)
			slog.SetDefault(logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (default ~/.config/rankfuse.yml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database, overrides db_path")

	var cmdInfo = &cobra.Command{
		Use:   "info",
		Short: "Show index information and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			emb := globalConfig.Embedding
			fmt.Println("=== Configuration ===")
			fmt.Printf("Config Path:      %s\n", configPath)
			fmt.Printf("Database Path:    %s\n", globalConfig.DBPath)
			fmt.Printf("Model Name:       %s\n", emb.ModelName)
			fmt.Printf("Dimensions:       %d\n", emb.EmbedDimensions)
			fmt.Printf("Chunk Size:       %d\n", emb.ChunkSize)
			fmt.Printf("Chunk Overlap:    %d\n", emb.ChunkOverlap)
			if emb.UseLocal {
				fmt.Println("Mode:             Local (llama.cpp)")
				fmt.Printf("Local Model:      %s\n", emb.LocalModelPath)
				fmt.Printf("Local Lib:        %s\n", emb.LocalLibPath)
			} else {
				fmt.Println("Mode:             Ollama Server")
				fmt.Printf("Ollama URL:       %s\n", emb.OllamaURL)
			}
			fmt.Println()

			fmt.Println("=== Fusion ===")
			algs, err := globalConfig.Algorithms()
			if err != nil {
				return err
			}
			names := make([]string, len(algs))
			for i, a := range algs {
				names[i] = string(a)
			}
			fmt.Printf("Algorithms:       %s\n", strings.Join(names, ", "))
			fmt.Printf("RRF k:            %g\n", globalConfig.Fusion.RRFK)
			for i, s := range globalConfig.Signals {
				fmt.Printf("Signal %d:         %s (%s, weight %g)\n", i, s.Name, s.Mode, globalConfig.Weights()[i])
			}
			fmt.Println()

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			stats, err := s.GetStats()
			if err != nil {
				return fmt.Errorf("fetching stats: %w", err)
			}

			fmt.Println("=== Index Stats ===")
			fmt.Printf("Total Passages:   %d\n", stats.TotalDocuments)
			fmt.Printf("Collections:      %d\n", stats.Collections)
			fmt.Printf("Vector Count:     %d\n", stats.Embeddings)
			if stats.VectorDim == 0 {
				fmt.Println("Embeddings:       Not generated")
			} else if stats.Embeddings == 0 {
				fmt.Println("Embeddings:       Configured but empty")
			} else {
				fmt.Printf("Embeddings:       Present (dim %d)\n", stats.VectorDim)
			}
			return nil
		},
	}

	var cmdIndex = &cobra.Command{
		Use:   "index [dataset]",
		Short: "Index the passages of a JSONL dataset (.zst accepted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			r, err := ingest.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			fmt.Printf("Indexing %s into collection %q...\n", filepath.Base(args[0]), collection)
			stats, err := ingest.IndexDataset(s, r, collection, logger)
			if err != nil {
				return err
			}
			fmt.Printf("Queries: %d, passages: %d, skipped: %d\n", stats.Queries, stats.Passages, stats.Skipped)
			return nil
		},
	}
	cmdIndex.Flags().StringVarP(&collection, "collection", "c", "default", "Collection name")

	var cmdEmbed = &cobra.Command{
		Use:   "embed",
		Short: "Generate missing passage embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			emb := &globalConfig.Embedding
			if cmd.Flags().Changed("url") {
				emb.OllamaURL = ollamaURL
			}
			if cmd.Flags().Changed("model") {
				emb.ModelName = modelName
			}
			if cmd.Flags().Changed("dim") {
				emb.EmbedDimensions = embedDim
			}
			if cmd.Flags().Changed("local") {
				emb.UseLocal = localMode
			}
			if cmd.Flags().Changed("model-path") {
				emb.LocalModelPath = localModelPath
			}
			if cmd.Flags().Changed("lib-path") {
				emb.LocalLibPath = localLibPath
			}

			// If local mode is active and no explicit model name provided,
			// use the filename from the path as the model name.
			if emb.UseLocal && emb.LocalModelPath != "" && !cmd.Flags().Changed("model") {
				emb.ModelName = filepath.Base(emb.LocalModelPath)
			}

			if saveConfig {
				if err := config.Save(globalConfig, configPath); err != nil {
					return err
				}
				fmt.Printf("Saved configuration to %s\n", configPath)
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return generateEmbeddings(cmd.Context(), s)
		},
	}

	// Attach embedding-specific flags only to embed command
	cmdEmbed.Flags().StringVar(&ollamaURL, "url", "", "Ollama API URL")
	cmdEmbed.Flags().StringVar(&modelName, "model", "", "Embedding model name")
	cmdEmbed.Flags().IntVar(&embedDim, "dim", 0, "Embedding vector dimensions")
	cmdEmbed.Flags().BoolVar(&localMode, "local", false, "Use local llama.cpp inference")
	cmdEmbed.Flags().StringVar(&localModelPath, "model-path", "", "Path to GGUF model file")
	cmdEmbed.Flags().StringVar(&localLibPath, "lib-path", "", "Path to llama.cpp shared library")
	cmdEmbed.Flags().BoolVar(&saveConfig, "save", false, "Write the resulting settings to the config file")

	var cmdFuse = &cobra.Command{
		Use:   "fuse [file|-]",
		Short: "Fuse score lists from a JSON document",
		Long:  `Reads {"lists": [[{"id","score","rank"}...]...], "weights": [...], "algorithm": "rrf", "k": 60} and prints the fused ranking of every requested algorithm.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			var req fuseRequest
			if err := json.Unmarshal(data, &req); err != nil {
				return fmt.Errorf("decoding fuse request: %w", err)
			}

			in, err := fusion.NewInput(req.Lists, req.Weights)
			if err != nil {
				return err
			}

			algs, err := globalConfig.Algorithms()
			if err != nil {
				return err
			}
			if name := req.Algorithm; cmd.Flags().Changed("algorithm") || name != "" {
				if cmd.Flags().Changed("algorithm") {
					name = algorithmName
				}
				alg, err := fusion.ParseAlgorithm(name)
				if err != nil {
					return err
				}
				algs = []fusion.Algorithm{alg}
			}
			k := req.K
			if k == 0 {
				k = globalConfig.Fusion.RRFK
			}

			results := make(map[fusion.Algorithm][]fusion.RankedScore, len(algs))
			for _, alg := range algs {
				res, err := fusion.Fuse(in, alg, fusion.Options{K: k, Logger: logger})
				if err != nil {
					return err
				}
				ranked, err := in.Reformat(res)
				if err != nil {
					return err
				}
				results[alg] = ranked
				if !jsonOut {
					fmt.Println(report.Table(res))
				}
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			return nil
		},
	}
	cmdFuse.Flags().StringVarP(&algorithmName, "algorithm", "a", "", "Fuse with a single algorithm instead of the configured ones")
	cmdFuse.Flags().BoolVar(&jsonOut, "json", false, "Print reformatted rankings as JSON")

	var cmdEval = &cobra.Command{
		Use:   "eval [dataset]",
		Short: "Fuse every query of a dataset and report NDCG per algorithm",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sigs, err := signals()
			if err != nil {
				return err
			}
			algs, err := globalConfig.Algorithms()
			if err != nil {
				return err
			}

			var backend pipeline.Backend
			switch backendName {
			case "static":
				backend = pipeline.StaticBackend{}
			case "store":
				s, err := openStore()
				if err != nil {
					return err
				}
				defer s.Close()
				var embedder llm.Embedder
				for _, sig := range sigs {
					if sig.Mode == pipeline.ModeVector {
						embedder, err = getEmbedder()
						if err != nil {
							return err
						}
						defer embedder.Close()
						break
					}
				}
				backend = pipeline.NewStoreBackend(s, embedder, collection)
			default:
				return fmt.Errorf("unknown backend %q, want static or store", backendName)
			}

			r, err := ingest.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			eval := globalConfig.Eval
			if cmd.Flags().Changed("workers") {
				eval.Workers = workers
			}
			if cmd.Flags().Changed("cutoff") {
				eval.Cutoff = cutoff
			}
			if cmd.Flags().Changed("fail-fast") {
				eval.FailFast = failFast
			}

			runner := &pipeline.Runner{
				Backend:     backend,
				Signals:     sigs,
				Algorithms:  algs,
				K:           globalConfig.Fusion.RRFK,
				Cutoff:      eval.Cutoff,
				Workers:     eval.Workers,
				FailFast:    eval.FailFast,
				Diagnostics: diagnostics,
				Logger:      logger,
			}
			rep, err := runner.Run(cmd.Context(), r)
			if err != nil {
				return err
			}

			if jsonOut {
				return report.WriteJSON(os.Stdout, rep)
			}
			return report.Render(os.Stdout, rep, report.Options{Pretty: pretty})
		},
	}
	cmdEval.Flags().StringVarP(&backendName, "backend", "b", "static", "Signal source: static (dataset scores) or store (live BM25 and vectors)")
	cmdEval.Flags().StringVarP(&collection, "collection", "c", "default", "Collection used by the store backend")
	cmdEval.Flags().BoolVar(&jsonOut, "json", false, "Write the report as JSON")
	cmdEval.Flags().BoolVar(&pretty, "pretty", false, "Render the report for the terminal")
	cmdEval.Flags().BoolVar(&diagnostics, "diagnostics", false, "Keep per query rankings and fused scores in the report")
	cmdEval.Flags().BoolVar(&failFast, "fail-fast", false, "Stop on the first invalid query")
	cmdEval.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent fusion workers")
	cmdEval.Flags().IntVarP(&cutoff, "cutoff", "k", 0, "Truncate NDCG at this depth")

	var cmdServer = &cobra.Command{
		Use:   "server",
		Short: "Start MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			var embedder llm.Embedder
			if s.VectorDim() > 0 {
				e, err := getEmbedder()
				if err != nil {
					logger.Warn("embedder unavailable, vector search disabled", "error", err)
				} else {
					embedder = e
					defer e.Close()
				}
			} else {
				logger.Info("no embeddings in index, vector search disabled")
			}

			lexicalWeight, vectorWeight := hybridWeights(globalConfig)
			mcpSrv := mcpserver.NewServer(s, embedder, mcpserver.Options{
				RRFK:          globalConfig.Fusion.RRFK,
				LexicalWeight: lexicalWeight,
				VectorWeight:  vectorWeight,
				Logger:        logger,
			})
			return mcpSrv.Start()
		},
	}

	// --- Hybrid Query Command ---
	var cmdQuery = &cobra.Command{
		Use:   "query [query]",
		Short: "Hybrid search (BM25 + Vector fused)",
		Long:  "Retrieves candidates with full text and vector search, scores every candidate on both signals and ranks them with the chosen fusion algorithm.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := fusion.ParseAlgorithm(algorithmName)
			if err != nil {
				return err
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			var embedder llm.Embedder
			if s.VectorDim() > 0 {
				e, err := getEmbedder()
				if err != nil {
					return err
				}
				embedder = e
				defer e.Close()
			}

			query := args[0]
			lexicalWeight, vectorWeight := hybridWeights(globalConfig)
			hits, res, err := pipeline.Hybrid(cmd.Context(), s, embedder, query, pipeline.HybridOptions{
				Collection: collection,
				Algorithm:  alg,
				Fusion:     fusion.Options{K: globalConfig.Fusion.RRFK, Logger: logger},
				Limit:      limit,

				LexicalWeight: lexicalWeight,
				VectorWeight:  vectorWeight,
			})
			if err != nil {
				return err
			}

			if len(hits) == 0 {
				fmt.Println("No results found.")
				return nil
			}

			fmt.Printf("\nHybrid Search Results (%s):\n", res.Algorithm)
			for i, h := range hits {
				fmt.Printf("\n%d. \033[1;36m%s/%s\033[0m (Score: %.4f)\n", i+1, h.Collection, h.DocID, h.Score)
				// Clean up newlines for cleaner output
				snippet := truncateRunes(strings.ReplaceAll(h.Snippet, "\n", " "), 150)
				fmt.Printf("   %s\n", snippet)
			}
			return nil
		},
	}
	cmdQuery.Flags().StringVarP(&collection, "collection", "c", "default", "Collection to search")
	cmdQuery.Flags().StringVarP(&algorithmName, "algorithm", "a", string(fusion.RRF), "Fusion algorithm")
	cmdQuery.Flags().IntVarP(&limit, "limit", "n", 10, "Max number of results")

	rootCmd.AddCommand(cmdInfo, cmdIndex, cmdEmbed, cmdFuse, cmdEval, cmdQuery, cmdServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
