package capture

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"net/http"
)

// Middleware captures every request passing through next.
func (ic *Interceptor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ic.Excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		r = ic.OnStart(r)
		if stateFrom(r.Context()) == nil {
			next.ServeHTTP(w, r)
			return
		}
		r = prepareChi(r)
		ic.OnPreDispatch(r)

		rec := newRecorder(w, readCeiling(ic.opts.MaxBodyBytes), func() { ic.MarkSending(r) })

		defer func() {
			if p := recover(); p != nil {
				status := rec.Status()
				if !rec.wroteHeader {
					status = http.StatusInternalServerError
				}
				ic.finalize(r, rec, status)
				panic(p)
			}
		}()

		next.ServeHTTP(rec, r)
		ic.finalize(r, rec, rec.Status())
	})
}

func (ic *Interceptor) finalize(r *http.Request, rec *recorder, status int) {
	ic.Resolve(r)
	ic.OnPreSend(r, rec.Payload())
	ic.OnComplete(r, status)
}

// recorder wraps a ResponseWriter, keeping up to limit bytes of the body.
// The first header or body write triggers onFirst.
type recorder struct {
	http.ResponseWriter

	status      int
	wroteHeader bool
	hijacked    bool

	buf      bytes.Buffer
	limit    int
	size     int
	overflow bool

	onFirst func()
}

func newRecorder(w http.ResponseWriter, limit int, onFirst func()) *recorder {
	return &recorder{ResponseWriter: w, status: http.StatusOK, limit: limit, onFirst: onFirst}
}

func (rw *recorder) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	// Informational responses do not commit the final status.
	if code >= 100 && code < 200 && code != http.StatusSwitchingProtocols {
		rw.ResponseWriter.WriteHeader(code)
		return
	}
	rw.wroteHeader = true
	rw.status = code
	if rw.onFirst != nil {
		rw.onFirst()
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	if room := rw.limit - rw.buf.Len(); room > 0 {
		if n <= room {
			rw.buf.Write(b[:n])
		} else {
			rw.buf.Write(b[:room])
			rw.overflow = true
		}
	} else if n > 0 {
		rw.overflow = true
	}
	return n, err
}

// Flush implements http.Flusher.
func (rw *recorder) Flush() {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker. A hijacked connection is recorded as 101.
func (rw *recorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("capture: underlying ResponseWriter does not implement http.Hijacker")
	}
	conn, brw, err := h.Hijack()
	if err == nil {
		rw.hijacked = true
		if !rw.wroteHeader {
			rw.wroteHeader = true
			rw.status = http.StatusSwitchingProtocols
			if rw.onFirst != nil {
				rw.onFirst()
			}
		}
	}
	return conn, brw, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *recorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Status returns the committed status, 200 when nothing was written.
func (rw *recorder) Status() int {
	if rw.hijacked && rw.status == http.StatusOK {
		return http.StatusSwitchingProtocols
	}
	return rw.status
}

// Payload returns the captured body for OnPreSend.
func (rw *recorder) Payload() ResponsePayload {
	return ResponsePayload{
		Data:     rw.buf.Bytes(),
		Size:     rw.size,
		Header:   rw.Header(),
		Overflow: rw.overflow,
	}
}
