package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"retro-api/domain"
	"retro-api/session"
)

const heartbeatInterval = 15 * time.Second

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, boards Boards, auth Authenticator, logger *log.Logger) {
	e.POST("/api/boards/:board/mutations", postMutation(boards, auth, logger))
	e.GET("/api/boards/:board/stream", streamBoard(boards, auth))
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func rejectionStatus(reason domain.RejectReason) int {
	switch reason {
	case domain.ReasonInvalidInput:
		return http.StatusBadRequest
	case domain.ReasonUnknownEntity:
		return http.StatusNotFound
	case domain.ReasonStaleRevision, domain.ReasonStageViolation, domain.ReasonInvalidTransition:
		return http.StatusConflict
	case domain.ReasonVoteLimit:
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

func postMutation(boards Boards, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, spanCtx := newMutationMetrics(c.Request().Context(), logger)
		c.SetRequest(c.Request().WithContext(spanCtx))
		ctx := spanCtx
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		voterID, authErr := auth.VoterIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		boardID := c.Param("board")
		if boardID == "" {
			metrics.SetErrorStage("missing_board")
			err = c.String(http.StatusBadRequest, "missing board id")
			return err
		}
		metrics.SetBoard(boardID)

		lr := io.LimitReader(c.Request().Body, mutationMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()
		var m domain.Mutation
		if decodeErr := dec.Decode(&m); decodeErr != nil {
			metrics.SetErrorStage("decode")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		metrics.SetKind(string(m.Kind))

		sess, getErr := boards.Get(ctx, boardID)
		if getErr != nil {
			metrics.SetErrorStage("registry")
			c.Logger().Error(getErr)
			err = c.String(http.StatusInternalServerError, "board unavailable")
			return err
		}

		applyStart := time.Now()
		revision, _, applyErr := sess.Apply(ctx, voterID, m)
		metrics.ObserveApply(time.Since(applyStart))
		if applyErr != nil {
			var rej *domain.Rejection
			if errors.As(applyErr, &rej) {
				metrics.SetErrorStage(string(rej.Reason))
				err = c.JSON(rejectionStatus(rej.Reason), errorResponse{Error: string(rej.Reason), Detail: rej.Detail})
				return err
			}
			if errors.Is(applyErr, session.ErrClosed) {
				metrics.SetErrorStage("session_closed")
				err = c.String(http.StatusServiceUnavailable, "board session closed")
				return err
			}
			metrics.SetErrorStage("apply")
			c.Logger().Error(applyErr)
			err = c.String(http.StatusInternalServerError, applyErr.Error())
			return err
		}

		err = c.JSON(http.StatusOK, mutationResponse{BoardID: boardID, Revision: revision})
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func streamBoard(boards Boards, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		// EventSource cannot set headers, so allow the token as a query param.
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		if _, err := auth.VoterIDFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		boardID := c.Param("board")
		if boardID == "" {
			return c.String(http.StatusBadRequest, "missing board id")
		}

		ctx := c.Request().Context()
		sess, err := boards.Get(ctx, boardID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "board unavailable")
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		snap, sub, err := sess.Subscribe(ctx)
		if err != nil {
			return c.String(http.StatusServiceUnavailable, "board session closed")
		}
		defer sess.Unsubscribe(sub)

		if err := writeSnapshotEvent(c, flusher, snap); err != nil {
			return nil
		}
		lastRevision := snap.Revision

		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-heartbeat.C:
				if _, err := c.Response().Write([]byte(": ping\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case delta, open := <-sub.Deltas():
				if !open {
					return nil
				}
				if delta.Revision <= lastRevision {
					continue
				}
				// A gap in the revision sequence means the observer lagged and
				// deltas were shed; converge from a fresh snapshot instead.
				if delta.Revision != lastRevision+1 || sub.Lagged() {
					resync, err := sess.Snapshot(ctx)
					if err != nil {
						return nil
					}
					sub.ClearLag()
					if err := writeSnapshotEvent(c, flusher, resync); err != nil {
						return nil
					}
					lastRevision = resync.Revision
					continue
				}
				if err := writeSSEEvent(c, flusher, "delta", delta); err != nil {
					return nil
				}
				lastRevision = delta.Revision
			}
		}
	}
}

func writeSnapshotEvent(c echo.Context, flusher http.Flusher, snap *domain.Snapshot) error {
	return writeSSEEvent(c, flusher, "snapshot", snap)
}

func writeSSEEvent(c echo.Context, flusher http.Flusher, event string, payload any) error {
	data, err := sonic.Marshal(payload)
	if err != nil {
		c.Logger().Error(err)
		return err
	}
	if _, err := c.Response().Write([]byte("event: " + event + "\ndata: ")); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	if _, err := c.Response().Write([]byte("\n\n")); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
