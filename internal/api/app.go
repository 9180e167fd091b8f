package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/lecture-qa/internal/auth"
	"github.com/npezzotti/lecture-qa/internal/config"
	"github.com/npezzotti/lecture-qa/internal/database"
	"github.com/npezzotti/lecture-qa/internal/server"
	"go.uber.org/zap"
)

type LectureApp struct {
	log            *zap.Logger
	db             database.Repository
	srv            *http.Server
	ls             *server.LectureServer
	codec          *auth.TokenCodec
	allowedOrigins []string
	now            func() time.Time
}

func NewLectureApp(mux *http.ServeMux, logger *zap.Logger, ls *server.LectureServer, db database.Repository, codec *auth.TokenCodec, cfg *config.Config) *LectureApp {
	s := &LectureApp{
		log:            logger,
		db:             db,
		ls:             ls,
		codec:          codec,
		allowedOrigins: cfg.AllowedOrigins,
		now:            time.Now,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.register)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/courses", s.authMiddleware(s.listCourses))
	mux.HandleFunc("POST /api/courses", s.authMiddleware(s.createCourse))
	mux.HandleFunc("POST /api/courses/enroll", s.authMiddleware(s.enroll))
	mux.HandleFunc("GET /api/courses/{courseId}", s.authMiddleware(s.getCourse))
	mux.HandleFunc("GET /api/courses/{courseId}/lectures", s.authMiddleware(s.listLectures))
	mux.HandleFunc("POST /api/courses/{courseId}/lectures", s.authMiddleware(s.createLecture))
	mux.HandleFunc("POST /api/lectures/{lectureId}/join", s.authMiddleware(s.joinLecture))
	mux.HandleFunc("GET /api/lectures/{lectureId}/questions", s.authMiddleware(s.listQuestions))
	mux.HandleFunc("POST /api/lectures/{lectureId}/questions", s.authMiddleware(s.askQuestion))
	mux.HandleFunc("PATCH /api/question/{questionId}", s.authMiddleware(s.updateQuestionStatus))
	mux.HandleFunc("PATCH /api/question/important/{questionId}", s.authMiddleware(s.markImportant(true)))
	mux.HandleFunc("PATCH /api/question/unimportant/{questionId}", s.authMiddleware(s.markImportant(false)))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped handler served by Start.
func (s *LectureApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *LectureApp) Start() error {
	s.log.Info("starting server", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

func (s *LectureApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
