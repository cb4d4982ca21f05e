package app

import (
	"database/sql"
	"net/http"
	"time"

	"eduexam/internal/app/observability"
	"eduexam/internal/assembly"
	"eduexam/internal/attempt"
	"eduexam/internal/auth"
	"eduexam/internal/generator"
	"eduexam/internal/grading"
	"eduexam/internal/performance"
	"eduexam/internal/question"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	verifier := auth.NewVerifier(cfg.JWTSecret)

	catalog := question.NewSQLSource(db)

	assemblySvc := assembly.NewService(db, catalog, nil, cfg.MixedExamQuestionCount, cfg.MinistryQuestionCount)
	if cfg.OpenAIAPIKey != "" {
		gen := generator.New(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel)
		assemblySvc = assembly.NewService(db, catalog, gen, cfg.MixedExamQuestionCount, cfg.MinistryQuestionCount)
	}
	assemblyHandler := assembly.NewHandler(assemblySvc)

	attemptSvc := attempt.NewService(db)
	attemptHandler := attempt.NewHandler(attemptSvc)

	gradingSvc := grading.NewService(db, catalog)
	gradingHandler := grading.NewHandler(gradingSvc)

	performanceSvc := performance.NewService(db)
	performanceHandler := performance.NewHandler(performanceSvc)

	generateLimiter := NewIPRateLimiter(cfg.GenerateRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Group(func(secure chi.Router) {
			secure.Use(verifier.RequireAuth)

			secure.Get("/exams/mixed", assemblyHandler.ListMixed)
			secure.Get("/exams/mixed/{id}", assemblyHandler.GetExam)
			secure.Post("/exams/ministry", assemblyHandler.CreateMinistrySession)
			secure.Get("/exams/ministry/{id}", assemblyHandler.GetMinistrySession)

			// Exam authoring is teacher/admin territory and hits ORDER BY
			// random() sampling or the LLM, so it is role-gated and
			// throttled per client IP.
			secure.Group(func(limited chi.Router) {
				limited.Use(auth.RequireRoles("admin", "teacher"))
				limited.Use(RateLimitMiddleware(generateLimiter))
				limited.Post("/exams/mixed", assemblyHandler.CreateMixed)
				limited.Post("/exams/ai", assemblyHandler.CreateAI)
			})

			secure.Post("/attempts/autosave", attemptHandler.Autosave)
			secure.Get("/attempts/{id}", attemptHandler.Get)
			secure.Post("/attempts/{id}/finalize", attemptHandler.Finalize)

			secure.Post("/answers", gradingHandler.SubmitAnswer)
			secure.Post("/results", gradingHandler.RecordResult)

			secure.Get("/performance", performanceHandler.GetPerformance)
			secure.Get("/performance/compare", performanceHandler.Compare)
			secure.Get("/performance/export", performanceHandler.Export)
		})
	})

	return r
}
