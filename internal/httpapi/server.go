package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"bioscout/internal/corpus"
	"bioscout/internal/domain"
)

// RAGPort is the HTTP-facing subset of the RAG service.
type RAGPort interface {
	Ask(ctx context.Context, question, userID string) (domain.AnswerResult, error)
	History(ctx context.Context, userID string, limit int) ([]domain.QAInteraction, error)
	Train(ctx context.Context, docs []domain.TrainingDocument) (corpus.Report, error)
	IngestCorpus(ctx context.Context, fullRebuild bool) (corpus.Report, error)
	IngestSource(ctx context.Context, ref domain.SourceRef) (corpus.Report, error)
	ReembedPending(ctx context.Context, limit int) (corpus.Report, error)
	MatchSpecies(ctx context.Context, label string) (domain.MatchResult, error)
	Identify(ctx context.Context, predictions []domain.Prediction) (domain.Identification, error)
}

type Server struct {
	router  *chi.Mux
	service RAGPort
	logger  *slog.Logger
	maxBody int64
}

type Options func(*Server)

func WithLogger(logger *slog.Logger) Options {
	return func(s *Server) { s.logger = logger }
}

// WithMaxBodyBytes bounds request bodies; the default is 1 MiB.
func WithMaxBodyBytes(n int64) Options {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

func New(service RAGPort, opts ...Options) *Server {
	r := chi.NewRouter()
	s := &Server{
		router:  r,
		service: service,
		logger:  slog.New(slog.DiscardHandler),
		maxBody: 1 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(middleware.RequestID)
	r.Use(s.accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/rag", func(r chi.Router) {
		r.Post("/ask", s.handleAsk)
		r.Get("/history", s.handleHistory)
		r.Post("/train", s.handleTrain)
		r.Post("/ingest", s.handleIngest)
		r.Post("/reembed", s.handleReembed)
	})
	r.Route("/api/species", func(r chi.Router) {
		r.Post("/match", s.handleMatch)
		r.Post("/identify", s.handleIdentify)
	})
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLogger is a middleware that logs HTTP requests
func (s *Server) accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("access",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
