// Package mcpserver provides an MCP (Model Context Protocol) server that
// exposes board tools for LLM integration via stdio transport.
//
// Mutations are submitted through the hub, so connected board sessions
// observe tool-driven changes exactly like changes from any other session.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/wunjo/internal/apperr"
	"github.com/starford/wunjo/internal/hub"
	"github.com/starford/wunjo/internal/models"
	"github.com/starford/wunjo/internal/store"
)

// Server wraps the MCP server with board tools.
type Server struct {
	mcp   *server.MCPServer
	notes store.NoteStore
	board *hub.Hub
}

// New creates a new MCP server with all board tools registered.
func New(notes store.NoteStore, board *hub.Hub) *Server {
	s := &Server{notes: notes, board: board}

	s.mcp = server.NewMCPServer(
		"Wunjo",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List every note on the board as JSON."),
	), s.listNotes)

	s.mcp.AddTool(mcp.NewTool("total_cost",
		mcp.WithDescription("Return the sum of cost over all notes on the board."),
	), s.totalCost)

	s.mcp.AddTool(mcp.NewTool("create_note",
		mcp.WithDescription("Create a note on the board. Connected clients see it immediately."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Unique note id")),
		mcp.WithString("title", mcp.Description("Display title")),
		mcp.WithString("content", mcp.Description("Free text body")),
		mcp.WithString("link", mcp.Description("Optional URL")),
		mcp.WithString("category", mcp.Description("Category, defaults to 'other'")),
		mcp.WithNumber("cost", mcp.Description("Cost, contributes to the board total")),
		mcp.WithNumber("x", mcp.Description("Canvas x coordinate, defaults to 100")),
		mcp.WithNumber("y", mcp.Description("Canvas y coordinate, defaults to 100")),
		mcp.WithString("startDate", mcp.Description("ISO date-time, enables calendar export")),
		mcp.WithString("endDate", mcp.Description("ISO date-time, defaults to startDate on export")),
	), s.createNote)

	s.mcp.AddTool(mcp.NewTool("update_note",
		mcp.WithDescription("Replace a note's full record by id. Connected clients see the change immediately."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the note to update")),
		mcp.WithString("title", mcp.Description("Display title")),
		mcp.WithString("content", mcp.Description("Free text body")),
		mcp.WithString("link", mcp.Description("Optional URL")),
		mcp.WithString("category", mcp.Description("Category, defaults to 'other'")),
		mcp.WithNumber("cost", mcp.Description("Cost, contributes to the board total")),
		mcp.WithNumber("x", mcp.Description("Canvas x coordinate")),
		mcp.WithNumber("y", mcp.Description("Canvas y coordinate")),
		mcp.WithString("startDate", mcp.Description("ISO date-time")),
		mcp.WithString("endDate", mcp.Description("ISO date-time")),
	), s.updateNote)

	s.mcp.AddTool(mcp.NewTool("delete_note",
		mcp.WithDescription("Delete a note from the board by id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Id of the note to delete")),
	), s.deleteNote)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := s.notes.ListAll()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, _ := json.MarshalIndent(notes, "", "  ")
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) totalCost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	total, err := s.notes.SumCost()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%g", total)), nil
}

func (s *Server) createNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	note, res := noteFromArgs(req)
	if res != nil {
		return res, nil
	}
	if err := s.board.SubmitNoteWait(hub.EventNewNote, note); err != nil {
		if errors.Is(err, apperr.ErrDuplicateKey) {
			return mcp.NewToolResultError(fmt.Sprintf("note already exists: %s", note.ID)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", note.ID)), nil
}

func (s *Server) updateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	note, res := noteFromArgs(req)
	if res != nil {
		return res, nil
	}
	if err := s.board.SubmitNoteWait(hub.EventUpdateNote, note); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("updated: %s", note.ID)), nil
}

func (s *Server) deleteNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.board.SubmitDeleteWait(id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("deleted: %s", id)), nil
}

// noteFromArgs builds the note payload shared by create_note and update_note.
func noteFromArgs(req mcp.CallToolRequest) (models.Note, *mcp.CallToolResult) {
	id, err := req.RequireString("id")
	if err != nil {
		return models.Note{}, mcp.NewToolResultError(err.Error())
	}
	return models.Note{
		ID:        id,
		Title:     req.GetString("title", ""),
		Content:   req.GetString("content", ""),
		Link:      req.GetString("link", ""),
		Category:  req.GetString("category", ""),
		Cost:      req.GetFloat("cost", 0),
		X:         req.GetFloat("x", 0),
		Y:         req.GetFloat("y", 0),
		StartDate: req.GetString("startDate", ""),
		EndDate:   req.GetString("endDate", ""),
	}, nil
}
