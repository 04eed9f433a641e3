// Package mcp exposes flowgate over the Model Context Protocol on stdio,
// so agent hosts can dry-run boundary decisions, validate policies, and
// verify audit files without linking the library.
package mcp

import (
	"context"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/flowgate/internal/policy"
)

// Config holds MCP server configuration.
type Config struct {
	PolicyPath string
	Logger     *zap.Logger
}

// Server wraps the MCP SDK server around a policy document. The
// document can be swapped at runtime by the hot-reload watcher.
type Server struct {
	mcpServer *mcpsdk.Server
	log       *zap.Logger

	mu         sync.Mutex
	doc        *policy.Document
	policyHash string
}

// New creates an MCP server with a loaded policy document.
func New(cfg Config) (*Server, error) {
	doc, hash, err := policy.LoadFile(cfg.PolicyPath)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		log:        log,
		doc:        doc,
		policyHash: hash,
	}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "flowgate",
			Version: "0.1.0",
		},
		nil,
	)
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// SetPolicy swaps the document in force. The hot-reload watcher calls
// this with already-validated documents only.
func (s *Server) SetPolicy(doc *policy.Document, hash string) {
	s.mu.Lock()
	s.doc = doc
	s.policyHash = hash
	s.mu.Unlock()
	s.log.Info("policy swapped", zap.String("hash", hash))
}

func (s *Server) current() (*policy.Document, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc, s.policyHash
}

// registerTools adds all flowgate tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "flowgate_check",
		Description: "Dry-run a boundary decision: given a tool name and labeled argument values, return the policy decision without performing anything.",
	}, s.handleCheck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "flowgate_scenario",
		Description: "Run a scenario trace file against the loaded policy and report per-case pass/fail.",
	}, s.handleScenario)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "flowgate_policy_validate",
		Description: "Validate a policy document file and return its content hash.",
	}, s.handlePolicyValidate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "flowgate_audit_verify",
		Description: "Verify the hash chain of a JSONL audit file and report the first broken link, if any.",
	}, s.handleAuditVerify)
}
