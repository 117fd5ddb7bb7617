package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// ListenAndServe runs the given servers until ctx is done or all of them
// stopped. On ctx cancelation, each server is given shutdownTimeout to drain
// its in-flight requests before its remaining connections are closed.
func ListenAndServe(ctx context.Context, shutdownTimeout time.Duration, servers ...*http.Server) {
	var wg sync.WaitGroup

	for _, s := range servers {
		wg.Add(1)

		go func(s *http.Server) {
			defer wg.Done()

			logger := logs.WithTag("addr", s.Addr)
			logger.Info("starting server")

			err := s.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logs.Error(errors.New("server stopped").
					WithTag("addr", s.Addr).
					Wrap(err))
				return
			}
			logger.Info("server stopped")
		}(s)
	}

	stopped := make(chan struct{})
	go func() {
		wg.Wait()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		shutdown(shutdownTimeout, servers)
		<-stopped

	case <-stopped:
	}
}

func shutdown(timeout time.Duration, servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range servers {
		wg.Add(1)

		go func(s *http.Server) {
			defer wg.Done()

			if err := s.Shutdown(ctx); err != nil {
				logs.Warn(errors.New("graceful shutdown failed").
					WithTag("addr", s.Addr).
					WithTag("timeout", timeout).
					Wrap(err))
				s.Close()
			}
		}(s)
	}
	wg.Wait()
}

// MetricsPathFormatter labels request metrics with the request path. Paths
// that are not served, or that are rejected before reaching a snapshot, are
// grouped under an empty label to keep the label cardinality bounded.
func MetricsPathFormatter(statusCode int, path string) string {
	switch statusCode {
	case http.StatusMovedPermanently,
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusRequestURITooLong:
		return ""
	}
	return path
}
