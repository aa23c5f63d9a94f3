package webdav

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/net/webdav"
)

// Config holds the knobs the teacher's equivalent config.WebDAVConfig
// exposed, trimmed to what a bare filesystem server needs: a bind port,
// an optional mount prefix, and optional basic-auth credentials.
type Config struct {
	Port   int
	Prefix string
	User   string
	Pass   string
}

// Server wraps an *http.Server exposing fs over WebDAV.
type Server struct {
	srv *http.Server
}

// NewServer builds a WebDAV server over fs. If cfg.User is non-empty,
// requests are gated by HTTP basic auth, the same mechanism the teacher's
// webdavServer falls back to when no JWT token service is configured.
func NewServer(cfg Config, fs afero.Fs) *Server {
	handler := &webdav.Handler{
		FileSystem: aferoToWebdavFS(fs),
		LockSystem: webdav.NewMemLS(),
		Prefix:     normalizePrefix(cfg.Prefix),
		Logger: func(r *http.Request, err error) {
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Debug("webdav error", "path", r.URL.Path, "method", r.Method, "err", err)
			}
		},
	}

	var h http.Handler = handler
	if cfg.User != "" {
		h = basicAuth(cfg.User, cfg.Pass, handler)
	}

	mux := http.NewServeMux()
	mux.Handle("/", h)

	return &Server{srv: &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		IdleTimeout:  5 * time.Minute,
		WriteTimeout: 30 * time.Minute,
	}}
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return "/"
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimRight(prefix, "/")
}

func basicAuth(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="avfs"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the server until ctx is cancelled, then shuts it down
// gracefully, the same lifecycle shape as the teacher's webdavServer.Start.
func (s *Server) Start(ctx context.Context) error {
	slog.InfoContext(ctx, "webdav server starting", "addr", s.srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Stop shuts the server down immediately.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
