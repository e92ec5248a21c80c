package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/knowledgehunter6/main-line/internal/store"
	"github.com/knowledgehunter6/main-line/pkg/audio"
)

// defaultCaptureMIME is what browsers produce from MediaRecorder.
const defaultCaptureMIME = "audio/webm"

func contextWithUser(ctx context.Context, u store.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

func userFrom(r *http.Request) store.User {
	u, _ := r.Context().Value(userKey{}).(store.User)
	return u
}

// handleAudioStream upgrades to a WebSocket that carries call audio both
// ways: binary frames from the client are microphone chunks pushed into
// the capture buffer, and synthesized agent speech is written back as
// binary frames. The buffer and player stay attached until the socket
// closes, spanning any number of calls.
func (s *Server) handleAudioStream(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	ctrl, err := s.calls.Controller(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "controller")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("api: websocket accept", "trainee_id", user.ID, "err", err)
		return
	}
	defer conn.CloseNow()

	mime := r.URL.Query().Get("mime")
	if mime == "" {
		mime = defaultCaptureMIME
	}
	buf := audio.NewBuffer(mime)
	ctrl.AttachRecorder(buf)
	detachPlayer := ctrl.AttachPlayer(audio.PlayerFunc(func(ctx context.Context, clip audio.Clip) error {
		return conn.Write(ctx, websocket.MessageBinary, clip.Data)
	}))
	defer func() {
		// The capture source is gone with the socket; later captures must
		// fail rather than read a dead buffer. The detach is scoped to this
		// socket's player so a newer stream keeps its own sink.
		detachPlayer()
		_ = buf.Close()
	}()

	slog.Info("audio stream connected", "trainee_id", user.ID, "mime", mime)

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				slog.Info("audio stream closed", "trainee_id", user.ID)
			} else {
				slog.Warn("audio stream error", "trainee_id", user.ID, "err", err)
			}
			return
		}
		if typ == websocket.MessageBinary {
			buf.Push(data)
		}
	}
}
