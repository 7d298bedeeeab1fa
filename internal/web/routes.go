package web

import (
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/face-lapse/internal/constants"
	"github.com/kozaktomas/face-lapse/internal/web/handlers"
	"github.com/kozaktomas/face-lapse/internal/web/static"
)

func (s *Server) setupRoutes() {
	svc := s.services
	imagesHandler := handlers.NewImagesHandler(svc.Store, svc.Blobs, svc.Stager, svc.Library, svc.Aligner, s.logger)
	videoHandler := handlers.NewVideoHandler(svc.Composer, s.logger)

	s.router.Get("/api/v1/health", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		// Long-running: the stream and the render finish when the work does
		r.Post("/images/align", imagesHandler.Align)
		r.Post("/video", videoHandler.Compose)

		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			// Images
			r.Post("/images/upload", imagesHandler.Upload)
			r.Get("/images", imagesHandler.List)
			r.Put("/images/order", imagesHandler.Reorder)
			r.Delete("/images/no-face", imagesHandler.DismissNoFace)
			r.Post("/images/{id}/toggle", imagesHandler.Toggle)
			r.Post("/images/{id}/realign", imagesHandler.Realign)
			r.Delete("/images/{id}", imagesHandler.Delete)
			r.Get("/images/{id}/original", imagesHandler.Original)
			r.Get("/images/{id}/aligned", imagesHandler.Aligned)

			// Video
			r.Get("/video", videoHandler.Get)
			r.Get("/video/latest", videoHandler.Download)
		})
	})

	// Serve static files for frontend (SPA)
	s.router.Get("/*", s.serveSPA)
}

// serveSPA serves the single-page application
func (s *Server) serveSPA(w http.ResponseWriter, r *http.Request) {
	if static.HasDist() {
		fs := static.GetFileSystem()
		p := r.URL.Path
		if p == "/" {
			p = "/index.html"
		}

		if f, err := fs.Open(p); err == nil {
			defer f.Close()
			if stat, err := f.Stat(); err == nil && !stat.IsDir() {
				contentType := mime.TypeByExtension(path.Ext(p))
				if contentType == "" {
					contentType = "application/octet-stream"
				}
				w.Header().Set("Content-Type", contentType)
				if strings.HasPrefix(p, "/assets/") {
					w.Header().Set("Cache-Control", constants.ImmutableCacheControl)
				}
				w.WriteHeader(http.StatusOK)
				io.Copy(w, f)
				return
			}
		}

		// For SPA routing, serve index.html for non-asset paths
		if !strings.HasPrefix(p, "/assets/") {
			if indexFile, err := fs.Open("/index.html"); err == nil {
				defer indexFile.Close()
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				w.WriteHeader(http.StatusOK)
				io.Copy(w, indexFile)
				return
			}
		}
	}

	// Fallback: return placeholder page if no frontend is built
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Face Lapse</title>
    <style>
        body { font-family: system-ui, sans-serif; display: flex; justify-content: center; align-items: center; height: 100vh; margin: 0; background: #111; color: #eee; }
        code { background: #222; padding: 2px 8px; border-radius: 4px; }
    </style>
</head>
<body>
    <div>
        <h1>Face Lapse</h1>
        <p>The API is running at <code>/api/v1</code>. No frontend build is embedded.</p>
    </div>
</body>
</html>`))
}
