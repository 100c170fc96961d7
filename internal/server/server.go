package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"zakai/internal/config"
	"zakai/internal/logger"
	"zakai/internal/session"
	"zakai/pkg"
)

// SessionResolver hands out the conversation engine for an identity token.
type SessionResolver interface {
	Resolve(ctx context.Context, token string, loc *pkg.Location) session.Engine
}

// Captioner answers a question about an image.
type Captioner interface {
	Describe(ctx context.Context, imageURL, text string) (string, error)
}

// Server exposes the chat and image endpoints over HTTP.
type Server struct {
	http     *http.Server
	sessions SessionResolver
	vision   Captioner
	log      zerolog.Logger
}

// New builds the HTTP server with its routes registered.
func New(cfg config.ServerConfig, sessions SessionResolver, vision Captioner) *Server {
	s := &Server{
		sessions: sessions,
		vision:   vision,
		log:      logger.With("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleRoot)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /image_processing", s.handleImage)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the routing mux, used by tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "zakai backend is running"})
}

type chatRequest struct {
	Text     string        `json:"text"`
	Location *pkg.Location `json:"location"`
}

// handleChat runs one conversation turn for the caller identified by the
// Authorization header.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"response": "Missing token"})
		return
	}

	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body."})
		return
	}
	if req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No input text provided."})
		return
	}

	engine := s.sessions.Resolve(r.Context(), token, req.Location)
	reply := engine.GenerateResponse(r.Context(), req.Text, req.Location, token)

	writeJSON(w, http.StatusOK, map[string]string{"response": reply})
}

type imageRequest struct {
	Image    string        `json:"image"`
	Text     string        `json:"text"`
	Location *pkg.Location `json:"location"`
}

// handleImage describes an image and records the exchange in the caller's
// conversation so later turns can refer back to it.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"response": "Missing token"})
		return
	}

	var req imageRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request body."})
		return
	}
	if req.Text == "" || req.Image == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No input text or image provided."})
		return
	}

	caption, err := s.vision.Describe(r.Context(), req.Image, req.Text)
	if err != nil {
		s.log.Error().Err(err).Msg("image description failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Image processing failed, please try again."})
		return
	}

	engine := s.sessions.Resolve(r.Context(), token, req.Location)
	engine.AppendExchange(req.Text, caption)

	writeJSON(w, http.StatusOK, map[string]string{"caption": caption})
}

func decodeBody(r *http.Request, out any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return sonic.Unmarshal(body, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
