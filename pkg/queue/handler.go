package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler processes payloads for one tag. Returning nil acks the job;
	// returning an error schedules a retry unless the error is wrapped with
	// Poison, which dead-letters the job immediately.
	Handler interface {
		Tag() string
		Handle(ctx context.Context, payload []byte) error
	}

	// HandlerFunc is the typed signature adapted by NewHandler.
	HandlerFunc[T any] func(ctx context.Context, payload T) error

	// RawHandlerFunc processes the payload bytes without decoding.
	RawHandlerFunc func(ctx context.Context, payload []byte) error
)

// NewHandler adapts a typed function into a Handler. The payload is decoded
// as JSON; a decode failure is poison since retrying cannot fix the bytes.
func NewHandler[T any](tag string, fn HandlerFunc[T]) Handler {
	return &typedHandler[T]{tag: tag, fn: fn}
}

// NewRawHandler wraps a function that wants the raw payload bytes.
func NewRawHandler(tag string, fn RawHandlerFunc) Handler {
	return &rawHandler{tag: tag, fn: fn}
}

type typedHandler[T any] struct {
	tag string
	fn  HandlerFunc[T]
}

func (h *typedHandler[T]) Tag() string { return h.tag }

func (h *typedHandler[T]) Handle(ctx context.Context, payload []byte) error {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return Poison(fmt.Errorf("failed to decode payload for tag %q: %w", h.tag, err))
	}
	return h.fn(ctx, t)
}

type rawHandler struct {
	tag string
	fn  RawHandlerFunc
}

func (h *rawHandler) Tag() string { return h.tag }

func (h *rawHandler) Handle(ctx context.Context, payload []byte) error {
	return h.fn(ctx, payload)
}
