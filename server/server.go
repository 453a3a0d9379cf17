// Package server exposes a chat session over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xhad/chatweb/internal/models"
	"github.com/xhad/chatweb/pkg/logger"
	"github.com/xhad/chatweb/pkg/rag"
	"github.com/xhad/chatweb/pkg/ragerr"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

// Message is the wire format in both directions.
//
// Client to server: type "load" (content is a URL), "ask" (content is a
// question) or "chat" (a URL anywhere in content loads it first; any other
// text is asked).
//
// Server to client: "status", "loaded", "answer" or "error".
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type LoadedData struct {
	Handle    string `json:"handle"`
	URL       string `json:"url"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
}

type Source struct {
	URL      string  `json:"url,omitempty"`
	Distance float64 `json:"distance"`
}

type AnswerData struct {
	Language string   `json:"language"`
	Sources  []Source `json:"sources"`
}

type ErrorData struct {
	Kind string `json:"kind"`
}

type WSServer struct {
	session *rag.Session
	log     *zap.Logger
}

func NewWSServer(session *rag.Session, log *zap.Logger) *WSServer {
	return &WSServer{
		session: session,
		log:     logger.OrNop(log).Named("server"),
	}
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Add WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Add a simple health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *WSServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("starting websocket server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The hijacked request context outlives the client, so a dropped
	// connection cancels ctx from the read loop instead.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	messages := make(chan []byte, 8)
	go func() {
		defer close(messages)
		defer cancel()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Debug("error reading message", zap.Error(err))
				}
				return
			}
			select {
			case messages <- message:
			case <-ctx.Done():
				return
			}
		}
	}()

	for message := range messages {
		if ctx.Err() != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendMessage(conn, Message{Type: "error", Content: "invalid message: " + err.Error()})
			continue
		}

		// Messages on one connection are handled in order.
		s.handleMessage(ctx, conn, msg)
	}
}

func (s *WSServer) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	switch msg.Type {
	case "load":
		s.load(ctx, conn, strings.TrimSpace(msg.Content))
	case "ask":
		s.ask(ctx, conn, msg.Content)
	case "chat", "":
		query := msg.Content
		if url := urlRegex.FindString(query); url != "" {
			if !s.load(ctx, conn, url) {
				return
			}
			query = strings.TrimSpace(strings.Replace(query, url, "", 1))
			if query == "" {
				return
			}
		}
		s.ask(ctx, conn, query)
	default:
		s.sendMessage(conn, Message{Type: "error", Content: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

func (s *WSServer) load(ctx context.Context, conn *websocket.Conn, url string) bool {
	s.sendMessage(conn, Message{Type: "status", Content: fmt.Sprintf("Processing URL: %s", url)})

	handle, err := s.session.Load(ctx, url)
	if err != nil {
		s.sendError(conn, "Failed to load URL", err)
		return false
	}

	s.sendMessage(conn, Message{
		Type:    "loaded",
		Content: fmt.Sprintf("Indexed %d chunks from %d pages", handle.Chunks, handle.Documents),
		Data: LoadedData{
			Handle:    handle.ID,
			URL:       handle.URL,
			Documents: handle.Documents,
			Chunks:    handle.Chunks,
		},
	})
	return true
}

func (s *WSServer) ask(ctx context.Context, conn *websocket.Conn, question string) {
	handle, ok := s.session.Current()
	if !ok {
		s.sendError(conn, "No website loaded", ragerr.Query("ask", ragerr.ErrEmptyStore))
		return
	}

	answer, err := s.session.Ask(ctx, handle, question)
	if err != nil {
		s.sendError(conn, "Failed to answer", err)
		return
	}

	s.sendMessage(conn, Message{
		Type:    "answer",
		Content: answer.Text,
		Data:    AnswerData{Language: answer.Language, Sources: sources(answer.Sources)},
	})
}

func sources(entries []models.ScoredEntry) []Source {
	out := make([]Source, 0, len(entries))
	for _, e := range entries {
		src := Source{Distance: e.Distance}
		if u, ok := e.Metadata["source"].(string); ok {
			src.URL = u
		}
		out = append(out, src)
	}
	return out
}

func (s *WSServer) sendError(conn *websocket.Conn, prefix string, err error) {
	kind := ragerr.KindOf(err).String()
	if errors.Is(err, context.Canceled) {
		kind = "canceled"
	}
	s.sendMessage(conn, Message{
		Type:    "error",
		Content: fmt.Sprintf("%s: %v", prefix, err),
		Data:    ErrorData{Kind: kind},
	})
}

func (s *WSServer) sendMessage(conn *websocket.Conn, msg Message) {
	if err := conn.WriteJSON(msg); err != nil {
		s.log.Debug("error sending message", zap.Error(err))
	}
}
