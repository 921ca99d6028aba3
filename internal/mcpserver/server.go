package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/akhenakh/rankfuse/internal/fusion"
	"github.com/akhenakh/rankfuse/internal/llm"
	"github.com/akhenakh/rankfuse/internal/ndcg"
	"github.com/akhenakh/rankfuse/internal/pipeline"
	"github.com/akhenakh/rankfuse/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type Server struct {
	store *store.Store
	llm   llm.Embedder
	mcp   *server.MCPServer
	opts  Options
}

// Options carries the fusion settings applied by the tools.
type Options struct {
	// RRFK is used when a request leaves k at 0.
	RRFK float64

	// Weights of the hybrid query signals, 0 reads as 1.
	LexicalWeight float64
	VectorWeight  float64

	Logger *slog.Logger
}

// Internal structures for JSON responses
type fuseResponseJSON struct {
	Algorithm  fusion.Algorithm                `json:"algorithm"`
	Ranking    fusion.Ranking                  `json:"ranking"`
	Scores     []fusion.ScoredID               `json:"scores"`
	Reformat   []fusion.RankedScore            `json:"reformatted"`
	Degenerate []fusion.DegenerateDistribution `json:"degenerate,omitempty"`
}

type statusJSON struct {
	TotalDocuments int `json:"total_documents"`
	Collections    int `json:"collections"`
	Embeddings     int `json:"embeddings"`
	VectorDim      int `json:"vector_dim"`
}

// NewServer builds the MCP server. s and l may be nil, in which case the
// tools that need them report an error.
func NewServer(s *store.Store, l llm.Embedder, opts Options) *Server {
	mcpServer := server.NewMCPServer(
		"rankfuse",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(true, false), // Subscribe disabled
		server.WithLogging(),
	)
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	srv := &Server{
		store: s,
		llm:   l,
		mcp:   mcpServer,
		opts:  opts,
	}

	srv.registerTools()
	srv.registerResources()
	return srv
}

func (s *Server) Start() error {
	// Serve via Stdio by default for local agent integration
	return server.ServeStdio(s.mcp)
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON marshal failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// fuseLists parses JSON score lists and weights and fuses them.
func (s *Server) fuseLists(listsJSON, weightsJSON, algorithm string, k float64) (*fuseResponseJSON, error) {
	var lists []fusion.ScoreList
	if err := json.Unmarshal([]byte(listsJSON), &lists); err != nil {
		return nil, fmt.Errorf("invalid lists: %w", err)
	}
	var weights []float64
	if strings.TrimSpace(weightsJSON) != "" {
		if err := json.Unmarshal([]byte(weightsJSON), &weights); err != nil {
			return nil, fmt.Errorf("invalid weights: %w", err)
		}
	}
	alg, err := fusion.ParseAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if k == 0 {
		k = s.opts.RRFK
	}

	in, err := fusion.NewInput(lists, weights)
	if err != nil {
		return nil, err
	}
	res, err := fusion.Fuse(in, alg, fusion.Options{K: k, Logger: s.opts.Logger})
	if err != nil {
		return nil, err
	}
	reformatted, err := in.Reformat(res)
	if err != nil {
		return nil, err
	}
	return &fuseResponseJSON{
		Algorithm:  res.Algorithm,
		Ranking:    res.Ranking,
		Scores:     res.Table(),
		Reformat:   reformatted,
		Degenerate: res.Degenerate,
	}, nil
}

func evaluateScores(queryID, scoresJSON string, cutoff int) (ndcg.Result, error) {
	sr := ndcg.SearchResult{QueryID: queryID}
	if err := json.Unmarshal([]byte(scoresJSON), &sr.Scores); err != nil {
		return ndcg.Result{}, fmt.Errorf("invalid scores: %w", err)
	}
	return ndcg.Evaluate(sr, ndcg.Options{K: cutoff})
}

func (s *Server) registerTools() {
	fuseTool := mcp.NewTool("fuse",
		mcp.WithDescription("Fuse several score lists over the same ids with borda, dbsf, rrf or rsf. Returns the fused ranking, per id scores and ranks reformatted against the first list."),
		mcp.WithString("lists", mcp.Required(), mcp.Description(`JSON array of score lists, e.g. [[{"id":"P1","score":0.4,"rank":1}]]`)),
		mcp.WithString("weights", mcp.Description("JSON array of per list weights, defaults to 1 each")),
		mcp.WithString("algorithm", mcp.DefaultString(string(fusion.RRF)), mcp.Description("borda, dbsf, rrf or rsf")),
		mcp.WithNumber("k", mcp.DefaultNumber(0), mcp.Description("RRF constant, 0 uses the configured one")),
	)

	s.mcp.AddTool(fuseTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		lists, err := request.RequireString("lists")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		resp, err := s.fuseLists(
			lists,
			request.GetString("weights", ""),
			request.GetString("algorithm", string(fusion.RRF)),
			request.GetFloat("k", 0),
		)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Fusion failed: %v", err)), nil
		}
		return toolJSON(resp)
	})

	evalTool := mcp.NewTool("evaluate",
		mcp.WithDescription("Compute the NDCG of a ranked list whose entries carry their ground truth rank."),
		mcp.WithString("scores", mcp.Required(), mcp.Description(`JSON array in fused order, e.g. [{"id":"P3","score":5,"rank":3}]`)),
		mcp.WithString("query_id", mcp.DefaultString(""), mcp.Description("Identifier echoed in the result")),
		mcp.WithNumber("cutoff", mcp.DefaultNumber(0), mcp.Description("Truncate NDCG at this depth, 0 for the whole list")),
	)

	s.mcp.AddTool(evalTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		scores, err := request.RequireString("scores")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, err := evaluateScores(request.GetString("query_id", ""), scores, request.GetInt("cutoff", 0))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Evaluation failed: %v", err)), nil
		}
		return toolJSON(res)
	})

	// Hybrid Query Tool
	queryTool := mcp.NewTool("query",
		mcp.WithDescription("Hybrid search over an indexed collection, fusing BM25 and vector similarity. Returns a JSON list of matches."),
		mcp.WithString("query", mcp.Required(), mcp.Description("The search query")),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection to search")),
		mcp.WithString("algorithm", mcp.DefaultString(string(fusion.RRF)), mcp.Description("borda, dbsf, rrf or rsf")),
		mcp.WithNumber("limit", mcp.DefaultNumber(10), mcp.Description("Max number of results")),
	)

	s.mcp.AddTool(queryTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.store == nil {
			return mcp.NewToolResultError("No index is open."), nil
		}
		query, _ := request.RequireString("query")
		collection, _ := request.RequireString("collection")
		alg, err := fusion.ParseAlgorithm(request.GetString("algorithm", string(fusion.RRF)))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		hits, _, err := pipeline.Hybrid(ctx, s.store, s.llm, query, pipeline.HybridOptions{
			Collection: collection,
			Algorithm:  alg,
			Fusion:     fusion.Options{K: s.opts.RRFK, Logger: s.opts.Logger},
			Limit:      request.GetInt("limit", 10),

			LexicalWeight: s.opts.LexicalWeight,
			VectorWeight:  s.opts.VectorWeight,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Hybrid search failed: %v", err)), nil
		}
		if hits == nil {
			hits = []pipeline.HybridHit{}
		}
		return toolJSON(hits)
	})

	// Status Tool
	statusTool := mcp.NewTool("status",
		mcp.WithDescription("Get the status of the rankfuse index in JSON format"),
	)

	s.mcp.AddTool(statusTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if s.store == nil {
			return mcp.NewToolResultError("No index is open."), nil
		}
		stats, err := s.store.GetStats()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get stats: %v", err)), nil
		}

		return toolJSON(statusJSON{
			TotalDocuments: stats.TotalDocuments,
			Collections:    stats.Collections,
			Embeddings:     stats.Embeddings,
			VectorDim:      stats.VectorDim,
		})
	})
}

// templateVar reads a URI template variable, which mcp-go may hand over as
// a string or a slice of segments.
func templateVar(vars map[string]any, name string) (string, error) {
	switch v := vars[name].(type) {
	case string:
		return v, nil
	case []string:
		if len(v) > 0 {
			return strings.Join(v, "/"), nil
		}
	}
	return "", fmt.Errorf("invalid %s argument", name)
}

func (s *Server) registerResources() {
	// {+id} keeps slashes in passage ids.
	s.mcp.AddResourceTemplate(
		mcp.NewResourceTemplate("rankfuse://{collection}/{+id}", "Passage"),
		func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			if s.store == nil {
				return nil, fmt.Errorf("no index is open")
			}
			vars := request.Params.Arguments
			collection, err := templateVar(vars, "collection")
			if err != nil {
				return nil, err
			}
			id, err := templateVar(vars, "id")
			if err != nil {
				return nil, err
			}

			content, err := s.store.GetDocument(collection, id)
			if err != nil {
				return nil, fmt.Errorf("passage not found: %w", err)
			}

			return []mcp.ResourceContents{
				mcp.TextResourceContents{
					URI:      request.Params.URI,
					MIMEType: "text/plain",
					Text:     content,
				},
			}, nil
		},
	)
}
