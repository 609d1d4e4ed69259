// Package pipeline runs protected requests through a fixed chain of gates.
//
// A route is a Handler preceded by Stages. Stages run in order; the first
// one to fail ends the request with its error as the JSON response, and the
// Handler never runs. A Handler that returns an error is answered the same
// way. Nothing is retried.
package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/middleware"
)

// Stage is one gate. It returns the request to hand to the next stage,
// usually with something added to its context.
type Stage func(r *http.Request) (*http.Request, error)

// Handler performs the mutation or query and writes the success response.
type Handler func(w http.ResponseWriter, r *http.Request) error

// Pipeline builds routes that share a logger.
type Pipeline struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{logger: logger}
}

// Chain returns an http.Handler that runs stages, then h.
func (p *Pipeline) Chain(h Handler, stages ...Stage) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		for _, stage := range stages {
			if r, err = stage(r); err != nil {
				p.fail(w, r, err)
				return
			}
		}
		if err := h(w, r); err != nil {
			p.fail(w, r, err)
		}
	})
}

func (p *Pipeline) fail(w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		p.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"user_id", middleware.GetUserID(r.Context()),
			"error", err,
		)
	}
	middleware.WriteError(w, err)
}

// JSON writes v with the given status. v is encoded before anything is sent,
// so an unencodable value becomes an Internal error instead of a bare status.
func JSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return apperr.Internal(fmt.Errorf("failed to encode response: %w", err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// A failed write means the client went away; there is no one to tell.
	_, _ = w.Write(buf.Bytes())
	return nil
}
