package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/storybook-be/internal/api/dto"
	"github.com/cuongbtq/storybook-be/internal/book"
	"github.com/cuongbtq/storybook-be/internal/progress"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamProgress handles GET /api/v1/books/:book_id/ws
// Sends the current status, then every progress event until the book
// reaches a terminal stage or the client goes away.
func (h *BookHandler) StreamProgress(c *gin.Context) {
	id, ok := h.bookID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Subscribe before reading the status so no event falls in between.
	sub, err := h.progress.Subscribe(ctx, id)
	if err != nil {
		h.respondError(c, "subscribe to progress", err)
		return
	}
	defer sub.Close()

	st, err := h.books.Status(ctx, id)
	if err != nil {
		h.respondError(c, "get status", err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", slog.String("book_id", id), slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	if err := h.writeJSON(conn, dto.NewStatusResponse(st)); err != nil {
		return
	}
	if st.Stage.Terminal() {
		h.closeStream(conn)
		return
	}

	// The client only sends control frames; reading detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("Websocket closed", slog.String("book_id", id), slog.String("error", err.Error()))
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := h.writeJSON(conn, eventResponse(event)); err != nil {
				return
			}
			if event.Stage.Terminal() {
				h.closeStream(conn)
				return
			}
		}
	}
}

func (h *BookHandler) writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(v); err != nil {
		h.logger.Debug("Websocket write failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (h *BookHandler) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
}

// eventResponse carries only the progress fields. Clients fetch artifacts
// from the status endpoint.
func eventResponse(e progress.Event) dto.StatusResponse {
	resp := dto.StatusResponse{
		ID:            e.BookID,
		Stage:         e.Stage,
		Progress:      e.Progress,
		StatusMessage: e.StatusMessage,
	}
	if e.Stage == book.StageFailed {
		resp.ErrorMessage = e.ErrorMessage
	}
	return resp
}
