package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"votechain/gateway/middleware"
	"votechain/ledger"
	"votechain/verification"
)

const (
	adminSessionLimit = 100
	streamBuffer      = 64
	wsWriteTimeout    = 10 * time.Second
)

type chainStatusResponse struct {
	IsValid     bool   `json:"isValid"`
	ChainLength int64  `json:"chainLength"`
	Message     string `json:"message"`
}

type blockCheckResponse struct {
	Valid bool          `json:"valid"`
	Block *ledger.Block `json:"block"`
}

func (s *server) adminSessions(w http.ResponseWriter, r *http.Request) {
	limit := adminSessionLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > adminSessionLimit {
			writeBadRequest(w, "limit must be between 1 and 100")
			return
		}
		limit = parsed
	}
	sessions, err := s.workflow.RecentSessions(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []verification.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *server) chainStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.Verify(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chainStatusResponse{
		IsValid:     report.Valid,
		ChainLength: report.Length,
		Message:     report.Message(),
	})
}

func (s *server) chainReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.ledger.Verify(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *server) latestBlock(w http.ResponseWriter, r *http.Request) {
	block, err := s.ledger.LatestBlock(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *server) blockAt(w http.ResponseWriter, r *http.Request) {
	position, err := strconv.ParseInt(chi.URLParam(r, "position"), 10, 64)
	if err != nil || position < 1 {
		writeBadRequest(w, "position must be a positive integer")
		return
	}
	block, err := s.ledger.BlockAt(r.Context(), position)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// verifyBlock reports whether the block exists and still hashes to its id.
func (s *server) verifyBlock(w http.ResponseWriter, r *http.Request) {
	block, err := s.ledger.BlockByHash(r.Context(), chi.URLParam(r, "hash"))
	if errors.Is(err, ledger.ErrBlockNotFound) {
		writeJSON(w, http.StatusOK, blockCheckResponse{Valid: false})
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, blockCheckResponse{Valid: block.Intact(), Block: block})
}

// stream pushes appended blocks over a websocket. With ?from=N the blocks
// from position N onward are replayed first.
func (s *server) stream(w http.ResponseWriter, r *http.Request) {
	var from int64
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 1 {
			middleware.WriteError(w, http.StatusBadRequest, "VTC-400", "from must be a positive integer", nil)
			return
		}
		from = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamBlocks(ctx, conn, from); err != nil {
		if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
			s.logger.Warn("block stream failed", "error", err.Error())
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *server) streamBlocks(ctx context.Context, conn *websocket.Conn, from int64) error {
	// Subscribe before replaying so nothing appended in between is lost.
	updates, cancel := s.ledger.Subscribe(streamBuffer)
	defer cancel()

	var sent int64
	if from > 0 {
		length, err := s.ledger.Length(ctx)
		if err != nil {
			return err
		}
		for position := from; position <= length; position++ {
			block, err := s.ledger.BlockAt(ctx, position)
			if err != nil {
				return err
			}
			if err := writeBlock(ctx, conn, block); err != nil {
				return err
			}
			sent = position
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-updates:
			if !ok {
				return nil
			}
			next, err := s.forward(ctx, sent, &block, func(b *ledger.Block) error {
				return writeBlock(ctx, conn, b)
			})
			if err != nil {
				return err
			}
			sent = next
		}
	}
}

// forward sends block, first reading back any positions after sent that the
// subscription skipped. It returns the highest position sent.
func (s *server) forward(ctx context.Context, sent int64, block *ledger.Block, send func(*ledger.Block) error) (int64, error) {
	if block.Position <= sent {
		return sent, nil
	}
	if sent > 0 {
		for position := sent + 1; position < block.Position; position++ {
			missed, err := s.ledger.BlockAt(ctx, position)
			if err != nil {
				return sent, err
			}
			if err := send(missed); err != nil {
				return sent, err
			}
			sent = position
		}
	}
	if err := send(block); err != nil {
		return sent, err
	}
	return block.Position, nil
}

func writeBlock(ctx context.Context, conn *websocket.Conn, block *ledger.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
