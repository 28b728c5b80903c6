package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// responseWriter перехватывает статус ответа и пропускает Hijack,
// иначе WebSocket-апгрейд за middleware невозможен.
type responseWriter struct {
	http.ResponseWriter
	status   int
	hijacked bool
}

func wrapWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Status возвращает код ответа; для hijacked-соединения — 101.
func (rw *responseWriter) Status() int {
	if rw.hijacked {
		return http.StatusSwitchingProtocols
	}
	return rw.status
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("middleware: underlying ResponseWriter does not implement http.Hijacker")
	}
	conn, buf, err := h.Hijack()
	if err == nil {
		rw.hijacked = true
	}
	return conn, buf, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }
