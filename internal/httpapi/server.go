package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loopd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Start(ctx context.Context, req types.StartRequest) (types.SessionInfo, error)
	Info(id string) (types.SessionInfo, error)
	SupplyInput(id, text string) error
	Poll(ctx context.Context, id string, offset int, wait time.Duration) (types.OutputResponse, error)
	Stream(ctx context.Context, id string, offset int, fn func(types.OutputChunk) error) (types.OutputResponse, error)
	Stop(id string) error
	Interrupt(id string) (bool, error)
	Remove(id string) error
	Status() types.StatusResponse
	ListCaches() ([]types.CacheInfo, error)
	Ready() bool
}

// streamEnd is the last NDJSON line of a stream.
type streamEnd struct {
	Done    bool              `json:"done"`
	Session types.SessionInfo `json:"session"`
}

func sessionID(r *http.Request) string { return chi.URLParam(r, "id") }

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", startHandler(svc))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				info, err := svc.Info(sessionID(r))
				if err != nil {
					writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, info)
			})
			r.With(middleware.Compress(5)).Get("/output", outputHandler(svc))
			r.Get("/stream", streamHandler(svc))
			r.Post("/input", inputHandler(svc))
			r.Post("/stop", func(w http.ResponseWriter, r *http.Request) {
				start, lvl := time.Now(), requestLogLevel(r)
				status := http.StatusAccepted
				if err := svc.Stop(sessionID(r)); err != nil {
					status = writeError(w, err)
					logEnd(r, lvl, "stop", status, start, err)
					return
				}
				w.WriteHeader(status)
				logEnd(r, lvl, "stop", status, start, nil)
			})
			r.Post("/interrupt", func(w http.ResponseWriter, r *http.Request) {
				start, lvl := time.Now(), requestLogLevel(r)
				hard, err := svc.Interrupt(sessionID(r))
				if err != nil {
					logEnd(r, lvl, "interrupt", writeError(w, err), start, err)
					return
				}
				writeJSON(w, http.StatusOK, types.InterruptResponse{Hard: hard})
				logEnd(r, lvl, "interrupt", http.StatusOK, start, nil)
			})
			r.Delete("/", func(w http.ResponseWriter, r *http.Request) {
				start, lvl := time.Now(), requestLogLevel(r)
				if err := svc.Remove(sessionID(r)); err != nil {
					logEnd(r, lvl, "remove", writeError(w, err), start, err)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				logEnd(r, lvl, "remove", http.StatusNoContent, start, nil)
			})
		})
	})

	r.With(middleware.Compress(5)).Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})

	r.With(middleware.Compress(5)).Get("/caches", func(w http.ResponseWriter, r *http.Request) {
		caches, err := svc.ListCaches()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.CachesResponse{Caches: caches})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// decodeJSON checks the content type, limits the body size and decodes
// into v. It writes the error response itself and reports false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Oversized bodies also land here; report 400 without size details.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// startHandler godoc
// @Summary      Start a generation session
// @Tags         sessions
// @Accept       json
// @Produce      json
// @Param        request body types.StartRequest true "session parameters"
// @Success      201 {object} types.SessionInfo
// @Failure      400 {object} types.ErrorResponse
// @Failure      409 {object} types.ErrorResponse
// @Failure      429 {object} types.ErrorResponse
// @Router       /sessions [post]
func startHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.StartRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start, lvl := time.Now(), requestLogLevel(r)
		if lvl >= LevelInfo && zlog != nil {
			z := zlog.Info().Str("path", r.URL.Path).Str("cache", req.Cache).Bool("interactive", req.Interactive)
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				z = z.Str("request_id", rid)
			}
			z.Msg("start session")
		}
		// Sessions outlive the request; admission waiting still honors
		// both client disconnect and server shutdown.
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		info, err := svc.Start(ctx, req)
		if err != nil {
			logEnd(r, lvl, "start", writeError(w, err), start, err)
			return
		}
		writeJSON(w, http.StatusCreated, info)
		logEnd(r, lvl, "start", http.StatusCreated, start, nil)
	}
}

// outputHandler godoc
// @Summary      Read session output
// @Description  Returns chunks after offset. With wait set, long-polls until output appears, the session waits for input or ends.
// @Tags         sessions
// @Produce      json
// @Param        id     path  string true  "session id"
// @Param        offset query int    false "first chunk index"
// @Param        wait   query string false "long-poll duration (e.g. 5s or 5)"
// @Success      200 {object} types.OutputResponse
// @Failure      404 {object} types.ErrorResponse
// @Router       /sessions/{id}/output [get]
func outputHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, err := parseOffset(r.URL.Query().Get("offset"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		wait, err := parseWait(r.URL.Query().Get("wait"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		out, err := svc.Poll(ctx, sessionID(r), offset, wait)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// streamHandler godoc
// @Summary      Stream session output
// @Description  NDJSON: one chunk per line, then {"done":true,"session":{...}}.
// @Tags         sessions
// @Produce      application/x-ndjson
// @Param        id     path  string true  "session id"
// @Param        offset query int    false "first chunk index"
// @Success      200 {object} types.OutputChunk
// @Failure      404 {object} types.ErrorResponse
// @Router       /sessions/{id}/stream [get]
func streamHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := sessionID(r)
		offset, err := parseOffset(r.URL.Query().Get("offset"))
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		// Fail fast with a proper status before the stream starts.
		if _, err := svc.Info(id); err != nil {
			writeError(w, err)
			return
		}
		start, lvl := time.Now(), requestLogLevel(r)
		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		writer := io.Writer(w)
		if lvl >= LevelDebug {
			writer = io.MultiWriter(w, &loggingLineWriter{id: id})
		}
		enc := json.NewEncoder(writer)
		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()
		_, err = svc.Stream(ctx, id, offset, func(c types.OutputChunk) error {
			if err := enc.Encode(c); err != nil {
				return err
			}
			if flush != nil {
				flush()
			}
			return nil
		})
		if err != nil {
			// Client gone or server shutting down: nothing more to say.
			if !errors.Is(err, context.Canceled) {
				logEnd(r, lvl, "stream", http.StatusOK, start, err)
			}
			return
		}
		info, err := svc.Info(id)
		if err == nil {
			_ = enc.Encode(streamEnd{Done: true, Session: info})
			if flush != nil {
				flush()
			}
		}
		logEnd(r, lvl, "stream", http.StatusOK, start, nil)
	}
}

// inputHandler godoc
// @Summary      Supply input to a waiting session
// @Description  Empty text or a lone newline resumes generation without adding tokens.
// @Tags         sessions
// @Accept       json
// @Param        id      path string             true "session id"
// @Param        request body types.InputRequest true "input text"
// @Success      204
// @Failure      404 {object} types.ErrorResponse
// @Failure      409 {object} types.ErrorResponse
// @Router       /sessions/{id}/input [post]
func inputHandler(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.InputRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		start, lvl := time.Now(), requestLogLevel(r)
		if err := svc.SupplyInput(sessionID(r), req.Text); err != nil {
			logEnd(r, lvl, "input", writeError(w, err), start, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		logEnd(r, lvl, "input", http.StatusNoContent, start, nil)
	}
}

func parseOffset(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("offset must be a non-negative integer")
	}
	return n, nil
}

// parseWait accepts a Go duration ("2s", "500ms") or plain seconds ("2"),
// capped at the configured maximum.
func parseWait(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		sec, aerr := strconv.ParseFloat(s, 64)
		if aerr != nil {
			return 0, errors.New("wait must be a duration or a number of seconds")
		}
		d = time.Duration(sec * float64(time.Second))
	}
	if d < 0 {
		return 0, errors.New("wait must not be negative")
	}
	if d > maxPollWait {
		d = maxPollWait
	}
	return d, nil
}
