package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const readHeaderTimeout = 5 * time.Second

// RunningServer is a started HTTP listener.
type RunningServer struct {
	Addr  net.Addr
	Port  int
	Close func(ctx context.Context) error
}

// startHTTPServer serves handler over plaintext HTTP/1.1 and h2c on port.
// TLS is terminated in front of the function (API Gateway or a load balancer).
// Port 0 picks a random port.
func startHTTPServer(port int, handler http.Handler) (*RunningServer, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen failed: %w", err)
	}

	server := &http.Server{
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
		}
	}()

	var closeOnce sync.Once
	closeFn := func(ctx context.Context) error {
		var shutdownErr error
		closeOnce.Do(func() {
			if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
				shutdownErr = err
			}
		})
		return shutdownErr
	}

	addr := lis.Addr()
	actualPort := port
	if tcp, ok := addr.(*net.TCPAddr); ok {
		actualPort = tcp.Port
	}
	return &RunningServer{Addr: addr, Port: actualPort, Close: closeFn}, nil
}
