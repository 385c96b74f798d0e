package http_srv

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/webitel/wlog"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

type Server struct {
	chi.Router

	Addr     string
	host     string
	port     int
	log      *wlog.Logger
	listener net.Listener
	srv      *http.Server
}

// New binds addr and prepares a router with the request logging chain.
func New(addr string, log *wlog.Logger) (*Server, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, requestLogger(log))

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	h, port, err := hostPort(l.Addr().String())
	if err != nil {
		_ = l.Close()

		return nil, err
	}

	return &Server{
		Router:   r,
		Addr:     addr,
		log:      log,
		host:     h,
		port:     port,
		listener: l,
		srv: &http.Server{
			Handler:           r,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

func (s *Server) Listen() error {
	err := s.srv.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func (s *Server) Shutdown() error {
	s.log.Debug("receive shutdown http")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.srv.Shutdown(ctx)
}

func (s *Server) Host() string {
	if e, ok := os.LookupEnv("PROXY_HTTP_HOST"); ok {
		return e
	}

	return s.host
}

func (s *Server) Port() int {
	return s.port
}

// hostPort splits a bound address. A wildcard host is replaced by the first
// public interface address so it can be announced.
func hostPort(addr string) (string, int, error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}

	port, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("listener port %q: %w", p, err)
	}

	if h == "::" || h == "0.0.0.0" {
		h = publicAddr()
	}

	return h, port, nil
}

func publicAddr() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}

	for _, i := range ifaces {
		addrs, err := i.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			default:
				continue
			}

			if isPublicIP(ip) {
				return ip.String()
			}
		}
	}

	return ""
}

func isPublicIP(ip net.IP) bool {
	return !ip.IsLoopback() && !ip.IsLinkLocalMulticast() && !ip.IsLinkLocalUnicast()
}

func requestLogger(log *wlog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			l := log.With(wlog.String("method", r.Method), wlog.String("path", r.URL.Path),
				wlog.Int("status", ww.Status()), wlog.String("request_id", middleware.GetReqID(r.Context())))
			duration := wlog.Float64("duration_ms", float64(time.Since(start).Microseconds())/float64(1000))

			if ww.Status() >= http.StatusInternalServerError {
				l.Error(fmt.Sprintf("[%d] %s %s", ww.Status(), r.Method, r.URL.Path), duration)
			} else {
				l.Debug(fmt.Sprintf("[OK] %s %s", r.Method, r.URL.Path), duration)
			}
		})
	}
}
