// Package server exposes a kernel over HTTP: GET streams an object out,
// PUT streams one in, DELETE drops it. Upload and download bodies may be
// s2-coded end to end, which keeps large media transfers cheap without
// touching the on-disk format.
package server

import (
	"io"
	"net/http"
	"strings"

	physeter "github.com/Mycrl/Physeter"
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/s2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const s2Encoding = "s2"

// Server routes object requests to a kernel.
type Server struct {
	kernel   *physeter.Kernel
	registry *prometheus.Registry
	ops      *prometheus.CounterVec
	bytesIn  prometheus.Counter
	bytesOut prometheus.Counter
}

// New builds a server around kernel with its own metrics registry.
func New(kernel *physeter.Kernel) *Server {
	s := &Server{
		kernel:   kernel,
		registry: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physeter_operations_total",
			Help: "Object operations by kind and outcome.",
		}, []string{"operation", "status"}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physeter_received_bytes_total",
			Help: "Object payload bytes received.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physeter_sent_bytes_total",
			Help: "Object payload bytes sent.",
		}),
	}

	s.registry.MustRegister(s.ops, s.bytesIn, s.bytesOut)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/metrics" && r.Method == http.MethodGet {
		promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
		return
	}

	name := strings.Trim(r.URL.Path, "/")
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.get(w, r, name)
	case http.MethodPut, http.MethodPost:
		s.put(w, r, name)
	case http.MethodDelete:
		s.delete(w, r, name)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// countingWriter feeds the sent-bytes counter while streaming a body.
type countingWriter struct {
	w       io.Writer
	counter prometheus.Counter
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.counter.Add(float64(n))
	return n, err
}

func (s *Server) get(w http.ResponseWriter, r *http.Request, name string) {
	encode := strings.Contains(r.Header.Get("Accept-Encoding"), s2Encoding)

	var sink = &countingWriter{w: w, counter: s.bytesOut}
	var body io.Writer = sink

	var coder *s2.Writer
	if encode {
		w.Header().Set("Content-Encoding", s2Encoding)
		coder = s2.NewWriter(sink)
		body = coder
	}

	err := s.kernel.Read(name, body)
	if err == nil && coder != nil {
		err = coder.Close()
	}

	if err != nil {
		s.fail(w, "read", name, err)
		return
	}

	s.ops.WithLabelValues("read", "ok").Inc()
}

// countingReader feeds the received-bytes counter while draining a body.
type countingReader struct {
	r       io.Reader
	counter prometheus.Counter
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.counter.Add(float64(n))
	return n, err
}

func (s *Server) put(w http.ResponseWriter, r *http.Request, name string) {
	var source io.Reader = &countingReader{r: r.Body, counter: s.bytesIn}
	if strings.Contains(r.Header.Get("Content-Encoding"), s2Encoding) {
		source = s2.NewReader(source)
	}

	if err := s.kernel.Write(name, source); err != nil {
		s.fail(w, "write", name, err)
		return
	}

	s.ops.WithLabelValues("write", "ok").Inc()
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.kernel.Delete(name); err != nil {
		s.fail(w, "delete", name, err)
		return
	}

	s.ops.WithLabelValues("delete", "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fail(w http.ResponseWriter, operation, name string, err error) {
	status := http.StatusInternalServerError
	label := "error"

	switch {
	case errors.Is(err, physeter.ErrNotFound):
		status = http.StatusNotFound
		label = "not_found"
	case errors.Is(err, physeter.ErrAlreadyExists):
		status = http.StatusConflict
		label = "conflict"
	default:
		log.WithFields(log.Fields{"operation": operation, "name": name}).WithError(err).Error("operation failed")
	}

	s.ops.WithLabelValues(operation, label).Inc()
	http.Error(w, err.Error(), status)
}
