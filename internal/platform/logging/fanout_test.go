package logging

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type failingHandler struct{ recordingHandler }

func (h *failingHandler) Handle(ctx context.Context, r slog.Record) error {
	_ = h.recordingHandler.Handle(ctx, r)
	return errors.New("remote unavailable")
}

func TestFanoutRespectsEachHandlerLevel(t *testing.T) {
	info := &recordingHandler{level: slog.LevelInfo}
	errOnly := &recordingHandler{level: slog.LevelError}
	h := Fanout(info, nil, errOnly)

	logger := slog.New(h)
	logger.Info("one")
	logger.Error("two")
	logger.Debug("three")

	if got := info.messages(); len(got) != 2 {
		t.Fatalf("info handler messages = %v", got)
	}
	if got := errOnly.messages(); len(got) != 1 || got[0] != "two" {
		t.Fatalf("error handler messages = %v", got)
	}
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug to be disabled")
	}
}

func TestFanoutJoinsHandlerErrors(t *testing.T) {
	ok := &recordingHandler{}
	bad := &failingHandler{}
	h := Fanout(ok, bad)

	err := h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "msg", 0))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(ok.messages()) != 1 || len(bad.messages()) != 1 {
		t.Fatal("expected every handler to receive the record")
	}
}

func TestFanoutWithGroupEmptyNameIsNoop(t *testing.T) {
	h := Fanout(&recordingHandler{})
	if h.WithGroup("") != h {
		t.Fatal("expected empty group to return the same handler")
	}
	if h.WithGroup("req") == h || h.WithAttrs([]slog.Attr{slog.String("k", "v")}) == h {
		t.Fatal("expected derived handlers")
	}
}
