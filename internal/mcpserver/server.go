// Package mcpserver exposes the session orchestrator as Model Context
// Protocol tools so that agents can start sandboxes, write files into them
// and run them without the websocket client.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/p-arndt/compilerz/internal/config"
	"github.com/p-arndt/compilerz/internal/language"
	"github.com/p-arndt/compilerz/internal/session"
)

const (
	defaultRunTimeout = 30 * time.Second
	maxRunTimeout     = 5 * time.Minute
	maxOutputBytes    = 1024 * 1024
)

// Sessions is the part of the session manager the tools drive.
type Sessions interface {
	Create(ctx context.Context, lang string) (*session.SessionInfo, error)
	WriteFile(ctx context.Context, id, filename string, content []byte) error
	Run(ctx context.Context, id, command string) (*session.Stream, error)
	Stop(ctx context.Context, id string) session.StopResult
}

type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	sessions  Sessions
	mcpServer *server.MCPServer

	http        *server.StreamableHTTPServer
	httpStarted atomic.Bool
}

func New(cfg *config.Config, logger *zap.Logger, sessions Sessions) *MCPServer {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		sessions: sessions,
	}
	s.mcpServer = server.NewMCPServer("compilerz", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.registerTools()
	s.http = server.NewStreamableHTTPServer(s.mcpServer)
	return s
}

func (s *MCPServer) registerTools() {
	langs := make([]string, 0, len(language.All()))
	for _, l := range language.All() {
		langs = append(langs, string(l))
	}

	s.mcpServer.AddTool(mcp.NewTool("start_session",
		mcp.WithDescription("Start a fresh sandbox for a language and return its session id"),
		mcp.WithString("language",
			mcp.Required(),
			mcp.Description("Runtime language"),
			mcp.Enum(langs...),
		),
	), s.handleStartSession)

	s.mcpServer.AddTool(mcp.NewTool("create_file",
		mcp.WithDescription("Write a source file into the session's working directory and return the command that runs it"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id from start_session")),
		mcp.WithString("filename", mcp.Required(), mcp.Description("Plain file name such as main.py")),
		mcp.WithString("code", mcp.Required(), mcp.Description("File content")),
	), s.handleCreateFile)

	s.mcpServer.AddTool(mcp.NewTool("run_file",
		mcp.WithDescription("Build and run a file previously written with create_file and return its terminal output"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id from start_session")),
		mcp.WithString("filename", mcp.Required(), mcp.Description("File to run")),
		mcp.WithString("stdin", mcp.Description("Input typed into the program once it starts")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Abort the run after this many seconds (default 30, max 300)")),
	), s.handleRunFile)

	s.mcpServer.AddTool(mcp.NewTool("stop_session",
		mcp.WithDescription("Stop the session's sandbox and forget the session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id from start_session")),
	), s.handleStopSession)
}

func (s *MCPServer) handleStartSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lang, err := request.RequireString("language")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	info, err := s.sessions.Create(ctx, lang)
	if err != nil {
		s.logger.Error("mcp start_session", zap.String("language", lang), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("start session: %v", err)), nil
	}
	return jsonResult(map[string]string{"session_id": info.ID, "language": info.Language})
}

func (s *MCPServer) handleCreateFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename, err := request.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	code := request.GetString("code", "")

	if err := s.sessions.WriteFile(ctx, id, filename, []byte(code)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create file: %v", err)), nil
	}
	command, err := language.CommandFor(filename)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("file written but cannot be run: %v", err)), nil
	}
	return jsonResult(map[string]string{"command": command})
}

type runResult struct {
	Output    string `json:"output"`
	ExitCode  int    `json:"exit_code"`
	TimedOut  bool   `json:"timed_out,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// handleRunFile runs the file's recipe and collects its terminal output
// until it exits or the timeout passes. A run that times out is aborted.
func (s *MCPServer) handleRunFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename, err := request.RequireString("filename")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	command, err := language.CommandFor(filename)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	timeout := runTimeout(request.GetFloat("timeout_seconds", 0))

	stream, err := s.sessions.Run(ctx, id, command)
	if errors.Is(err, session.ErrRunInProgress) {
		return mcp.NewToolResultError("a run is already in progress in this session"), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run: %v", err)), nil
	}

	if stdin := request.GetString("stdin", ""); stdin != "" {
		if _, err := stream.Write([]byte(stdin)); err != nil {
			s.logger.Debug("mcp stdin not delivered", zap.String("session_id", id), zap.Error(err))
		}
	}

	res := collect(ctx, stream, timeout)
	s.logger.Info("mcp run finished",
		zap.String("session_id", id),
		zap.String("filename", filename),
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut))
	return jsonResult(res)
}

func (s *MCPServer) handleStopSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res := s.sessions.Stop(ctx, id)
	if !res.Stopped {
		msg := "session was not stopped"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		return mcp.NewToolResultError(msg), nil
	}
	return jsonResult(map[string]bool{"stopped": true})
}

// collect reads stream to the end, aborting it when timeout passes or ctx is
// cancelled. Output beyond maxOutputBytes is drained and dropped.
func collect(ctx context.Context, stream *session.Stream, timeout time.Duration) runResult {
	var out strings.Builder
	truncated := false
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				if room := maxOutputBytes - out.Len(); room > 0 {
					out.Write(buf[:min(n, room)])
					truncated = truncated || n > room
				} else {
					truncated = true
				}
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	timedOut := false
	select {
	case <-done:
	case <-timer.C:
		timedOut = true
		stream.Abort()
		<-done
	case <-ctx.Done():
		stream.Abort()
		<-done
	}

	result := stream.Finish(context.WithoutCancel(ctx))
	return runResult{
		Output:    out.String(),
		ExitCode:  result.ExitCode,
		TimedOut:  timedOut,
		Truncated: truncated,
	}
}

func runTimeout(seconds float64) time.Duration {
	if seconds <= 0 {
		return defaultRunTimeout
	}
	d := time.Duration(seconds * float64(time.Second))
	return min(d, maxRunTimeout)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ServeStdio serves MCP over stdin/stdout until ctx is done.
func (s *MCPServer) ServeStdio(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio")
	err := server.NewStdioServer(s.mcpServer).Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, io.EOF)) {
		return nil
	}
	return err
}

// ServeHTTP serves MCP over streamable HTTP on the configured address.
func (s *MCPServer) ServeHTTP() error {
	addr := s.config.MCP.Listen
	s.logger.Info("starting MCP server on HTTP", zap.String("addr", addr))
	s.httpStarted.Store(true)
	return s.http.Start(addr)
}

// Shutdown stops the HTTP transport if it was started.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	if !s.httpStarted.Load() {
		return nil
	}
	return s.http.Shutdown(ctx)
}
