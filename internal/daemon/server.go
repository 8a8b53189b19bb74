package daemon

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// RequestHandler answers every Query API method. Implementations
// typically wrap an *index.Coordinator.
type RequestHandler interface {
	Initialize(ctx context.Context) (InitializeResult, error)
	ReindexFull(ctx context.Context) (IndexStatsResult, error)
	ReindexIncremental(ctx context.Context, paths []string) (IndexStatsResult, error)
	AwaitEpoch(ctx context.Context, epoch int64, timeout time.Duration) (bool, error)
	CurrentEpoch(ctx context.Context) (int64, error)
	Search(ctx context.Context, params SearchParams) (SearchResult, error)
	GetDef(ctx context.Context, name, path string) (GetDefResult, error)
	GetAllDefs(ctx context.Context, fileID string) (GetAllDefsResult, error)
	GetReferences(ctx context.Context, defID, name string, limit int) (GetReferencesResult, error)
	GetFileState(ctx context.Context, path string) (GetFileStateResult, error)
	GetFileStats(ctx context.Context) (GetFileStatsResult, error)
	MapRepo(ctx context.Context, include []string) (MapRepoResult, error)
	Status() StatusResult
}

// Server listens on an ephemeral loopback TCP port and answers Query
// API requests authenticated by a bearer token.
type Server struct {
	cfg     Config
	handler RequestHandler
	token   string

	listener net.Listener
	started  time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server bound to cfg's run directory.
func NewServer(cfg Config, handler RequestHandler) *Server {
	return &Server{cfg: cfg, handler: handler}
}

// generateToken returns a random 32-byte hex-encoded bearer token.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// ListenAndServe binds to 127.0.0.1:0, persists run/server.json and
// run/token, and blocks accepting connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.cfg.EnsureDir(); err != nil {
		return err
	}

	token, err := generateToken()
	if err != nil {
		return err
	}
	s.token = token

	listener, err := net.Listen("tcp", fmt.Sprintf("%s:0", s.cfg.Host))
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Host, err)
	}
	s.listener = listener
	s.started = time.Now()

	port := listener.Addr().(*net.TCPAddr).Port
	if err := s.writeServerInfo(port); err != nil {
		_ = listener.Close()
		return err
	}
	if err := os.WriteFile(s.cfg.TokenPath(), []byte(token), 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.cfg.ServerFilePath())
		_ = os.Remove(s.cfg.TokenPath())
	}()

	slog.Info("daemon listening", slog.String("addr", listener.Addr().String()))

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			slog.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

func (s *Server) writeServerInfo(port int) error {
	data, err := json.Marshal(ServerInfo{Port: port})
	if err != nil {
		return fmt.Errorf("failed to marshal server info: %w", err)
	}
	if err := os.WriteFile(s.cfg.ServerFilePath(), data, 0644); err != nil {
		return fmt.Errorf("failed to write server info: %w", err)
	}
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		slog.Warn("failed to set connection deadline", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req Request
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.Token), []byte(s.token)) != 1 {
		_ = encoder.Encode(NewErrorResponse(req.ID, ErrCodeUnauthorized, "invalid or missing token"))
		return
	}

	_ = encoder.Encode(s.handleRequest(ctx, req))
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.handler.Status())

	case MethodInitialize:
		result, err := s.handler.Initialize(ctx)
		return s.respond(req.ID, result, err)

	case MethodReindexFull:
		result, err := s.handler.ReindexFull(ctx)
		return s.respond(req.ID, result, err)

	case MethodReindexIncremental:
		var params ReindexIncrementalParams
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.ReindexIncremental(ctx, params.Paths)
		return s.respond(req.ID, result, err)

	case MethodAwaitEpoch:
		var params AwaitEpochParams
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		reached, err := s.handler.AwaitEpoch(ctx, params.Epoch, time.Duration(params.TimeoutMS)*time.Millisecond)
		return s.respond(req.ID, AwaitEpochResult{Reached: reached}, err)

	case MethodCurrentEpoch:
		epoch, err := s.handler.CurrentEpoch(ctx)
		return s.respond(req.ID, CurrentEpochResult{Epoch: epoch}, err)

	case MethodSearch:
		var params SearchParams
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		if err := params.Validate(); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.Search(ctx, params)
		return s.respond(req.ID, result, err)

	case MethodGetDef:
		var params GetDefParams
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.GetDef(ctx, params.Name, params.Path)
		return s.respond(req.ID, result, err)

	case MethodGetAllDefs:
		var params GetAllDefsParams
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.GetAllDefs(ctx, params.FileID)
		return s.respond(req.ID, result, err)

	case MethodGetReferences:
		var params GetReferencesParams
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.GetReferences(ctx, params.DefID, params.Name, params.Limit)
		return s.respond(req.ID, result, err)

	case MethodGetFileState:
		var params GetFileStateParams
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.GetFileState(ctx, params.Path)
		return s.respond(req.ID, result, err)

	case MethodGetFileStats:
		result, err := s.handler.GetFileStats(ctx)
		return s.respond(req.ID, result, err)

	case MethodMapRepo:
		var params MapRepoParams
		if err := decodeParams(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
		}
		result, err := s.handler.MapRepo(ctx, params.Include)
		return s.respond(req.ID, result, err)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) respond(id string, result any, err error) Response {
	if err != nil {
		return NewErrorResponse(id, ErrCodeQueryFailed, err.Error())
	}
	return NewSuccessResponse(id, result)
}

func decodeParams(raw any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}

// Close stops the server.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
