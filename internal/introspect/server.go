// Package introspect serves hover information about a RootProgram over
// an LSP-shaped stdio transport: point the cursor at a source line and
// get back the bytecode (instruction name, bci, any quickened
// specialization, and a local live at the first of those bcis)
// generated for it, the same request/response
// shape an editor already speaks for the guest source language itself.
package introspect

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"go.lsp.dev/protocol"
	"go.uber.org/zap"

	"github.com/solalang/opcore/internal/bytecode"
)

// Server answers textDocument/hover requests about one RootProgram's
// generated bytecode, framed the way every LSP server reads stdin:
// "Content-Length: N\r\n\r\n" followed by N bytes of JSON-RPC.
type Server struct {
	reader *bufio.Reader
	writer io.Writer
	mu     sync.Mutex
	log    *zap.Logger

	programs map[string]*bytecode.RootProgram
	table    *bytecode.Table

	initialized bool
	shutdown    bool
}

func NewServer(r io.Reader, w io.Writer, table *bytecode.Table, log *zap.Logger) *Server {
	return &Server{
		reader:   bufio.NewReader(r),
		writer:   w,
		log:      log,
		programs: make(map[string]*bytecode.RootProgram),
		table:    table,
	}
}

// Register makes prog available under uri for hover lookups.
func (s *Server) Register(uri string, prog *bytecode.RootProgram) {
	s.programs[uri] = prog
}

func (s *Server) Run() error {
	for {
		msg, err := s.readMessage()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			s.log.Error("read message", zap.Error(err))
			continue
		}
		s.handleMessage(msg)
		if s.shutdown {
			return nil
		}
	}
}

func (s *Server) readMessage() ([]byte, error) {
	var contentLength int
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "Content-Length:") {
			lengthStr := strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:"))
			contentLength, err = strconv.Atoi(lengthStr)
			if err != nil {
				return nil, fmt.Errorf("invalid Content-Length: %s", lengthStr)
			}
		}
	}
	if contentLength == 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}
	content := make([]byte, contentLength)
	if _, err := io.ReadFull(s.reader, content); err != nil {
		return nil, err
	}
	return content, nil
}

func (s *Server) sendMessage(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(content))
	if _, err := s.writer.Write([]byte(header)); err != nil {
		return err
	}
	_, err = s.writer.Write(content)
	return err
}

func (s *Server) sendResult(id json.RawMessage, result any) {
	s.sendMessage(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
}

func (s *Server) sendError(id json.RawMessage, code int, message string) {
	s.sendMessage(map[string]any{
		"jsonrpc": "2.0", "id": id,
		"error": map[string]any{"code": code, "message": message},
	})
}

func (s *Server) handleMessage(raw []byte) {
	var base struct {
		ID     json.RawMessage `json:"id,omitempty"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params,omitempty"`
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		s.log.Error("parse message", zap.Error(err))
		return
	}
	switch base.Method {
	case "initialize":
		s.initialized = true
		s.sendResult(base.ID, map[string]any{
			"capabilities": map[string]any{
				"hoverProvider": true,
			},
		})
	case "initialized":
	case "shutdown":
		s.shutdown = true
		s.sendResult(base.ID, nil)
	case "exit":
		s.shutdown = true
	case "textDocument/hover":
		s.handleHover(base.ID, base.Params)
	default:
		if base.ID != nil {
			s.sendError(base.ID, -32601, "method not found: "+base.Method)
		}
	}
}

func (s *Server) handleHover(id json.RawMessage, params json.RawMessage) {
	var p protocol.HoverParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.sendError(id, -32700, "parse error")
		return
	}
	prog, ok := s.programs[string(p.TextDocument.URI)]
	if !ok {
		s.sendResult(id, nil)
		return
	}
	hover := s.hoverAt(prog, int(p.Position.Line)+1, int(p.Position.Character)+1)
	s.sendResult(id, hover)
}
