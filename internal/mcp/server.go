// Package mcp provides a Model Context Protocol server for the OFNR engine.
//
// It exposes the full pipeline and each single stage as MCP tools, and the
// master schema and ontology summary as MCP resources. Served over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/hurttlocker/ofnr/internal/metrics"
	"github.com/hurttlocker/ofnr/internal/ofnr"
	"github.com/hurttlocker/ofnr/internal/pipeline"
	"github.com/hurttlocker/ofnr/internal/plato"
	"github.com/hurttlocker/ofnr/internal/store"
)

// DefaultCacheTTL is how long validate results are reused for identical input.
const DefaultCacheTTL = 10 * time.Minute

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Pipeline *pipeline.Pipeline
	Store    store.Store      // optional audit log
	Metrics  *metrics.Metrics // optional
	Logger   *zap.Logger
	Version  string // version string for MCP server info
	CacheTTL time.Duration
}

type handlers struct {
	p       *pipeline.Pipeline
	st      store.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	results *cache.Cache

	// mcp-go dispatches handlers concurrently; SQLite takes one writer.
	dbMu sync.Mutex
}

// NewServer creates a configured MCP server with all OFNR tools and resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := server.NewMCPServer(
		"ofnr",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	h := &handlers{
		p:       cfg.Pipeline,
		st:      cfg.Store,
		metrics: cfg.Metrics,
		logger:  logger.Named("mcp"),
		results: cache.New(ttl, 2*ttl),
	}

	registerValidateTool(s, h)
	registerSanitizeTool(s, h)
	registerClassifyTool(s, h)
	registerNeedTool(s, h)
	registerScoreTool(s, h)
	registerStatsTool(s, h)

	registerSchemaResource(s)
	registerOntologyResource(s, h)

	return s
}

// Serve runs the server on the given streams until ctx is done or stdin
// closes.
func Serve(ctx context.Context, s *server.MCPServer, stdin io.Reader, stdout io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, stdin, stdout)
}

// --- Tools ---

func candidateArgs(req mcp.CallToolRequest) ofnr.Candidate {
	return ofnr.Candidate{
		ID:            req.GetString("id", ""),
		Observations:  req.GetStringSlice("observations", nil),
		Feelings:      req.GetStringSlice("feelings", nil),
		Needs:         req.GetStringSlice("needs", nil),
		Requests:      req.GetStringSlice("requests", nil),
		ExplicitNeeds: req.GetStringSlice("explicit_needs", nil),
		Language:      req.GetString("language", ""),
		Source:        ofnr.Source{Corpus: "mcp"},
	}
}

func registerValidateTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("ofnr_validate",
		mcp.WithDescription("Validate and normalize one OFNR extraction (observations, feelings, needs, requests). Returns the final state, the validated output document when assembled, the rejection reason otherwise, and the full diagnostic trail."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithArray("observations", mcp.WithStringItems(), mcp.Description("Observation sentences")),
		mcp.WithArray("feelings", mcp.WithStringItems(), mcp.Description("Feeling terms")),
		mcp.WithArray("needs", mcp.WithStringItems(), mcp.Description("Need candidates")),
		mcp.WithArray("requests", mcp.WithStringItems(), mcp.Description("Request sentences")),
		mcp.WithArray("explicit_needs", mcp.WithStringItems(), mcp.Description("Needs stated verbatim in the source text")),
		mcp.WithString("id", mcp.Description("Record id (generated when empty)")),
		mcp.WithString("language", mcp.Description("ISO language code (default: en)")),
		mcp.WithBoolean("persist", mcp.Description("Write the outcome to the audit log when one is configured (default: true)")),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		cand := candidateArgs(req)
		hash, err := store.HashCandidate(cand)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		key := hash + "|" + cand.ID + "|" + cand.Language

		res, cached := h.cachedResult(key)
		if !cached {
			if h.metrics != nil {
				done := h.metrics.Track()
				defer done()
			}
			res, err = h.p.Run(ctx, cand)
			if err != nil && !errors.Is(err, ofnr.ErrRejected) {
				return mcp.NewToolResultError(fmt.Sprintf("validate error: %v", err)), nil
			}
			// Ids generated by the pipeline differ per run; only cache stable ones.
			if cand.ID != "" {
				h.results.SetDefault(key, res)
			}
		}

		if h.st != nil && req.GetBool("persist", true) {
			h.dbMu.Lock()
			err := h.st.SaveResult(ctx, "", cand, res)
			h.dbMu.Unlock()
			if err != nil {
				h.logger.Warn("audit write failed", zap.String("id", res.ID), zap.Error(err))
			}
		}

		data, _ := json.MarshalIndent(res, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func (h *handlers) cachedResult(key string) (*pipeline.Result, bool) {
	v, ok := h.results.Get(key)
	if !ok {
		return nil, false
	}
	res, ok := v.(*pipeline.Result)
	return res, ok
}

type sanitizeResponse struct {
	Text        string            `json:"text"`
	Rejected    bool              `json:"rejected"`
	Reason      string            `json:"reason,omitempty"`
	Diagnostics []ofnr.Diagnostic `json:"diagnostics"`
}

func registerSanitizeTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("ofnr_sanitize_observation",
		mcp.WithDescription("Rewrite one observation into evaluation-free language. Judgment markers are downgraded, rewritten or removed; content with no safe rewrite is rejected."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The observation sentence"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		out, diags, err := h.p.Sanitizer().Sanitize(text)
		resp := sanitizeResponse{Text: out, Diagnostics: diags}
		if err != nil {
			resp.Rejected = true
			resp.Reason = err.Error()
		}
		if resp.Diagnostics == nil {
			resp.Diagnostics = []ofnr.Diagnostic{}
		}
		data, _ := json.MarshalIndent(resp, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerClassifyTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("ofnr_classify_feeling",
		mcp.WithDescription("Classify one feeling term as a true feeling, a pseudo-feeling (with its translation), a somatic marker, or unknown."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("term",
			mcp.Required(),
			mcp.Description("The feeling term, e.g. 'betrayed' or 'I feel anxious'"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		term, err := req.RequireString("term")
		if err != nil {
			return mcp.NewToolResultError("term is required"), nil
		}
		r := h.p.Classifier().Classify(term)
		payload := map[string]interface{}{
			"result": r,
			"match":  r.Match.String(),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

type needResponse struct {
	Candidate string              `json:"candidate"`
	Decision  string              `json:"decision"`
	Need      string              `json:"need,omitempty"`
	Match     string              `json:"match,omitempty"`
	Target    ofnr.Field          `json:"target,omitempty"`
	Elements  []string            `json:"elements,omitempty"`
	Matches   []map[string]string `json:"matches,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

func registerNeedTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("ofnr_check_need",
		mcp.WithDescription("Check one need candidate against the locked needs list and the PLATO strategy filter (Person, Location, Action, Time, Object)."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("need",
			mcp.Required(),
			mcp.Description("The need candidate, e.g. 'trust' or 'my partner calling me every night'"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		need, err := req.RequireString("need")
		if err != nil {
			return mcp.NewToolResultError("need is required"), nil
		}
		resp := needResponse{Candidate: need}
		switch d := h.p.Gate().Validate(need).(type) {
		case plato.Accepted:
			resp.Decision = "Accepted"
			resp.Need = d.Need
			resp.Match = d.Match.String()
		case plato.ReclassifiedAsStrategy:
			resp.Decision = "ReclassifiedAsStrategy"
			resp.Target = d.Target
			for _, el := range d.Elements {
				resp.Elements = append(resp.Elements, string(el))
			}
			for _, m := range d.Matches {
				resp.Matches = append(resp.Matches, map[string]string{"element": string(m.Element), "text": m.Text})
			}
		case plato.Rejected:
			resp.Decision = "Rejected"
			resp.Reason = d.Reason
		}
		data, _ := json.MarshalIndent(resp, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerScoreTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("ofnr_score_request",
		mcp.WithDescription("Score one request for actionability, specificity and positivity. Demands and negative phrasings are rewritten first; the composite is compared to the configured threshold."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The request sentence"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		scorer := h.p.Scorer()
		payload := map[string]interface{}{
			"assessment": scorer.Assess(text),
			"threshold":  scorer.Config().Threshold,
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, h *handlers) {
	tool := mcp.NewTool("ofnr_stats",
		mcp.WithDescription("Show the loaded ontology release, cached results, and audit-log statistics per state, safety label, action and stage."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		payload := map[string]interface{}{
			"ontology":       h.p.Store().Summary(),
			"cached_results": h.results.ItemCount(),
		}
		if h.st != nil {
			h.dbMu.Lock()
			stats, err := h.st.Stats(ctx)
			h.dbMu.Unlock()
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("stats error: %v", err)), nil
			}
			payload["audit"] = stats
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}
