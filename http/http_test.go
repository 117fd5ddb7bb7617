package http

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}

func TestListenAndServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mux http.ServeMux
	mux.HandleFunc("/health", HandleHealthCheck)
	server := &http.Server{Addr: freeAddr(t), Handler: &mux}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ListenAndServe(ctx, time.Second, server)
	}()

	require.Eventually(t, func() bool {
		res, err := http.Get("http://" + server.Addr + "/health")
		if err != nil {
			return false
		}
		res.Body.Close()
		return res.StatusCode == http.StatusOK
	}, time.Second*5, time.Millisecond*10)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("servers did not stop after context cancelation")
	}
}

func TestListenAndServeShutdownTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	server := &http.Server{
		Addr: freeAddr(t),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(started)
			<-release
		}),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ListenAndServe(ctx, time.Millisecond*50, server)
	}()

	go func() {
		for {
			res, err := http.Get("http://" + server.Addr)
			if err == nil {
				res.Body.Close()
				return
			}
			select {
			case <-started:
				return
			case <-time.After(time.Millisecond * 10):
			}
		}
	}()

	select {
	case <-started:
	case <-time.After(time.Second * 5):
		t.Fatal("request did not reach the server")
	}

	// The pending request never completes: shutdown gives up after its
	// timeout and closes the connection.
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("servers did not stop after the shutdown timeout")
	}
}

func TestListenAndServeReturnsWhenServersFail(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ListenAndServe(context.Background(), time.Second, &http.Server{Addr: l.Addr().String()})
	}()

	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("ListenAndServe did not return after the server failed to listen")
	}
}
