package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/kittclouds/kiln/internal/errs"
	"github.com/kittclouds/kiln/internal/eventbus"
	"github.com/kittclouds/kiln/internal/store"
	"github.com/kittclouds/kiln/internal/tools"
)

// Server is the C10 single-writer daemon. It owns the one connection to
// C6 (a store.Storer) and forwards select bus events to connected
// clients as unsolicited EventPush frames. toolReg/toolExec may both be
// nil, in which case tool.* methods report CodeMethodNotFound instead of
// panicking — a daemon can run with C12 disabled.
type Server struct {
	st    store.Storer
	bus   *eventbus.Bus
	writeMu sync.Mutex // serialises write methods; reads pass through freely

	toolReg  *tools.Registry
	toolExec *tools.Executor

	requestTimeout time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}

	listener net.Listener
	sub      eventbus.Token
}

type client struct {
	conn net.Conn
	w    *bufio.Writer
	wmu  sync.Mutex
}

func (c *client) send(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return writeFrame(c.w, v)
}

// New constructs a Server bound to st and bus. It does not listen until
// ListenAndServe is called. reg/exec wire C12's tool catalog onto the
// tool.list/tool.invoke methods; pass nil for both to run without them.
func New(st store.Storer, bus *eventbus.Bus, requestTimeout time.Duration, reg *tools.Registry, exec *tools.Executor) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Server{
		st:             st,
		bus:            bus,
		requestTimeout: requestTimeout,
		clients:        make(map[*client]struct{}),
		toolReg:        reg,
		toolExec:       exec,
	}
}

// ListenAndServe binds socketPath (removing a stale socket file left by a
// crashed prior instance) and serves connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, socketPath string) error {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return errs.Storage(errs.KindDaemonUnavail, "listen "+socketPath, err)
	}
	s.listener = ln

	s.sub = s.bus.Subscribe(eventbus.InteractionRequested, 50, s.forwardEvent)
	s.bus.Subscribe(eventbus.EntityStored, 50, s.forwardEvent)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) forwardEvent(_ context.Context, evt eventbus.Event) eventbus.HandlerResult {
	push := EventPush{Type: "event", Event: string(evt.Kind), Data: evt.Payload}
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()
	for _, c := range targets {
		_ = c.send(push)
	}
	return eventbus.HandlerResult{}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.sub != 0 {
		s.bus.Unsubscribe(eventbus.InteractionRequested, s.sub)
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	c := &client{conn: conn, w: bufio.NewWriter(conn)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	for {
		raw, err := readFrame(r)
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			_ = c.send(ErrorResponse{JSONRPC: JSONRPCVersion, Error: ErrorObj{Code: CodeParseError, Message: err.Error()}})
			continue
		}
		if req.JSONRPC != JSONRPCVersion || req.Method == "" {
			_ = c.send(ErrorResponse{JSONRPC: JSONRPCVersion, ID: req.ID, Error: ErrorObj{Code: CodeInvalidRequest, Message: "missing jsonrpc/method"}})
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		result, errObj := s.dispatch(reqCtx, req.Method, req.Params)
		cancel()

		if errObj != nil {
			_ = c.send(ErrorResponse{JSONRPC: JSONRPCVersion, ID: req.ID, Error: *errObj})
			continue
		}
		_ = c.send(Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: result})
	}
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (any, *ErrorObj) {
	if ctx.Err() != nil {
		return nil, &ErrorObj{Code: CodeCancelled, Message: "cancelled"}
	}

	switch method {
	case "entity.upsert":
		var e store.Entity
		if err := json.Unmarshal(params, &e); err != nil {
			return nil, invalidParams(err)
		}
		s.writeMu.Lock()
		id, err := s.st.UpsertEntity(&e)
		s.writeMu.Unlock()
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"id": id, "version": e.Version}, nil

	case "entity.get":
		var p struct{ ID string `json:"id"` }
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		e, err := s.st.GetEntity(p.ID)
		if err != nil {
			return nil, internalErr(err)
		}
		return e, nil

	case "entity.delete":
		var p struct{ ID string `json:"id"` }
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		s.writeMu.Lock()
		err := s.st.SoftDeleteEntity(p.ID)
		s.writeMu.Unlock()
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"ok": true}, nil

	case "property.set":
		var p store.Property
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		s.writeMu.Lock()
		err := s.st.SetProperty(&p)
		s.writeMu.Unlock()
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"ok": true}, nil

	case "property.list":
		var p struct{ EntityID string `json:"entity_id"` }
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		props, err := s.st.GetProperties(p.EntityID)
		if err != nil {
			return nil, internalErr(err)
		}
		return props, nil

	case "relation.create":
		var r store.Relation
		if err := json.Unmarshal(params, &r); err != nil {
			return nil, invalidParams(err)
		}
		s.writeMu.Lock()
		id, err := s.st.CreateRelation(&r)
		s.writeMu.Unlock()
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"id": id}, nil

	case "relation.from":
		var p struct{ EntityID string `json:"entity_id"` }
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		rels, err := s.st.ListRelationsFrom(p.EntityID)
		if err != nil {
			return nil, internalErr(err)
		}
		return rels, nil

	case "relation.to":
		var p struct{ EntityID string `json:"entity_id"` }
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		rels, err := s.st.ListRelationsTo(p.EntityID)
		if err != nil {
			return nil, internalErr(err)
		}
		return rels, nil

	case "tag.upsert":
		var p struct{ Path string `json:"path"` }
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		s.writeMu.Lock()
		tag, err := s.st.UpsertTag(p.Path)
		s.writeMu.Unlock()
		if err != nil {
			return nil, internalErr(err)
		}
		return tag, nil

	case "tag.entity":
		var p struct {
			EntityID   string  `json:"entity_id"`
			TagPath    string  `json:"tag_path"`
			Source     string  `json:"source"`
			Confidence float64 `json:"confidence"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		s.writeMu.Lock()
		err := s.st.TagEntity(p.EntityID, p.TagPath, p.Source, p.Confidence)
		s.writeMu.Unlock()
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"ok": true}, nil

	case "tag.list":
		var p struct{ Path string `json:"path"` }
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		entities, err := s.st.ListEntitiesByTag(p.Path)
		if err != nil {
			return nil, internalErr(err)
		}
		return entities, nil

	case "block.attach":
		var b store.Block
		if err := json.Unmarshal(params, &b); err != nil {
			return nil, invalidParams(err)
		}
		s.writeMu.Lock()
		err := s.st.AttachBlock(&b)
		s.writeMu.Unlock()
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"ok": true}, nil

	case "block.list":
		var p struct{ EntityID string `json:"entity_id"` }
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		blocks, err := s.st.ListBlocks(p.EntityID)
		if err != nil {
			return nil, internalErr(err)
		}
		return blocks, nil

	case "embedding.upsert":
		var e store.Embedding
		if err := json.Unmarshal(params, &e); err != nil {
			return nil, invalidParams(err)
		}
		s.writeMu.Lock()
		err := s.st.UpsertEmbedding(&e)
		s.writeMu.Unlock()
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"ok": true}, nil

	case "embedding.nearest":
		var p struct {
			Model string    `json:"model"`
			Query []float32 `json:"query"`
			TopK  int       `json:"top_k"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		embs, scores, err := s.st.NearestEmbeddings(p.Model, p.Query, p.TopK)
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"embeddings": embs, "scores": scores}, nil

	case "query":
		var q store.QuerySurface
		if err := json.Unmarshal(params, &q); err != nil {
			return nil, invalidParams(err)
		}
		res, err := s.st.Query(q)
		if err != nil {
			return nil, internalErr(err)
		}
		return res, nil

	case "schema.version":
		v, err := s.st.SchemaVersion()
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"version": v}, nil

	case "export":
		data, err := s.st.Export()
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"data": data}, nil

	case "import":
		var p struct{ Data []byte `json:"data"` }
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		s.writeMu.Lock()
		err := s.st.Import(p.Data)
		s.writeMu.Unlock()
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"ok": true}, nil

	case "tool.list":
		if s.toolReg == nil {
			return nil, &ErrorObj{Code: CodeMethodNotFound, Message: "tool registry not available"}
		}
		var p struct{ Query string `json:"query"` }
		if len(params) > 0 {
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, invalidParams(err)
			}
		}
		if p.Query == "" {
			return s.toolReg.All(), nil
		}
		return s.toolReg.Search(p.Query, 0), nil

	case "tool.invoke":
		if s.toolExec == nil {
			return nil, &ErrorObj{Code: CodeMethodNotFound, Message: "tool executor not available"}
		}
		var p struct {
			Name string         `json:"name"`
			Args map[string]any `json:"args"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams(err)
		}
		result, err := s.toolExec.Execute(ctx, p.Name, p.Args)
		if err != nil {
			return nil, internalErr(err)
		}
		return map[string]any{"result": result}, nil

	default:
		return nil, &ErrorObj{Code: CodeMethodNotFound, Message: "unknown method: " + method}
	}
}

func invalidParams(err error) *ErrorObj {
	return &ErrorObj{Code: CodeInvalidParams, Message: err.Error()}
}

func internalErr(err error) *ErrorObj {
	return &ErrorObj{Code: CodeInternal, Message: err.Error()}
}
