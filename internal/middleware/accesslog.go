package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AccessLog logs one "finished request" entry per request.
func AccessLog(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &StatusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			logger.WithFields(logrus.Fields{
				"method":      r.Method,
				"uri":         r.RequestURI,
				"host":        r.Host,
				"proto":       r.Proto,
				"status":      sw.StatusCode(),
				"bytes":       sw.Bytes,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_ip":   r.RemoteAddr,
				"user_agent":  r.UserAgent(),
			}).Info("finished request")
		})
	}
}

// StatusWriter records the status and size of a response. It keeps the
// Flusher and Hijacker capabilities of the wrapped writer.
type StatusWriter struct {
	http.ResponseWriter
	Status int
	Bytes  int64
}

func (sw *StatusWriter) WriteHeader(status int) {
	if sw.Status == 0 {
		sw.Status = status
	}
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *StatusWriter) Write(b []byte) (int, error) {
	if sw.Status == 0 {
		sw.Status = http.StatusOK
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.Bytes += int64(n)
	return n, err
}

// StatusCode is the status sent, 200 if nothing was written.
func (sw *StatusWriter) StatusCode() int {
	if sw.Status == 0 {
		return http.StatusOK
	}
	return sw.Status
}

func (sw *StatusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *StatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: underlying ResponseWriter is not a Hijacker")
	}
	conn, rw, err := hj.Hijack()
	if err == nil && sw.Status == 0 {
		sw.Status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (sw *StatusWriter) Unwrap() http.ResponseWriter { return sw.ResponseWriter }
