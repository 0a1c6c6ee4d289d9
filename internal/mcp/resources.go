package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/ofnr/internal/assemble"
)

func registerSchemaResource(s *server.MCPServer) {
	resource := mcp.NewResource(
		"ofnr://schema",
		"Master Schema",
		mcp.WithResourceDescription("JSON Schema of the validated OFNR output document."),
		mcp.WithMIMEType("application/schema+json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := assemble.MasterSchema()
		if err != nil {
			return nil, fmt.Errorf("rendering schema: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/schema+json", Text: string(data)},
		}, nil
	})
}

func registerOntologyResource(s *server.MCPServer, h *handlers) {
	resource := mcp.NewResource(
		"ofnr://ontology",
		"Ontology Release",
		mcp.WithResourceDescription("Version and table sizes of the loaded ontology release."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, _ := json.MarshalIndent(h.p.Store().Summary(), "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
