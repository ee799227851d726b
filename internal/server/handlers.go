package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"bountyboard/internal/escrow"
	"bountyboard/internal/idempotency"
	"bountyboard/internal/ledger"
	"bountyboard/internal/sigauth"
)

const (
	HeaderIdempotencyKey = sigauth.HeaderIdempotencyKey
	HeaderReplayed       = "Idempotent-Replayed"

	maxBodyBytes = 64 << 10
	defaultLimit = 20
	maxLimit     = 100
)

const (
	opCreate       = "create"
	opSubmit       = "submit"
	opApprove      = "approve"
	opReject       = "reject"
	opCancel       = "cancel"
	opWithdrawFees = "withdrawFees"
)

var (
	errBadRequest     = errors.New("bad request")
	errNotImplemented = errors.New("not supported by this backend")
)

// writeHandler performs one signed write for caller and returns the body to
// send and remember.
type writeHandler func(r *http.Request, caller common.Address, body []byte) (any, error)

// idempotent runs h at most once per caller and X-Idempotency-Key. A repeated
// request gets the stored response; reusing a key for a different request is
// rejected. Only successful responses are remembered.
func (s *Server) idempotent(op string, status int, h writeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, ok := sigauth.Caller(ctx)
		if !ok {
			writeError(w, http.StatusUnauthorized, sigauth.ErrMissingCaller)
			return
		}
		key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if key == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("missing %s header", HeaderIdempotencyKey))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(body) > maxBodyBytes {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return
		}

		scoped := idempotency.ScopedKey(caller, key)
		hash := idempotency.RequestHash(r.Method, r.URL.Path, body)
		unlock := s.guard.Lock(scoped)
		defer unlock()

		rec, err := s.guard.Lookup(ctx, scoped, hash)
		switch {
		case errors.Is(err, idempotency.ErrKeyReused):
			s.metrics.incOp(op, "key_reused")
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		case err != nil:
			log.WithError(err).WithField("op", op).Error("[SERVER] Idempotency lookup failed")
			writeError(w, http.StatusInternalServerError, errors.New("idempotency store unavailable"))
			return
		case rec != nil:
			s.metrics.incReplay(op)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(HeaderReplayed, "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.Response)
			return
		}

		resp, err := h(r, caller, body)
		if err != nil {
			code := statusFor(err)
			s.metrics.incOp(op, resultFor(code))
			fields := log.Fields{"op": op, "caller": caller.Hex(), "status": code, "error": err}
			if code >= http.StatusInternalServerError {
				log.WithFields(fields).Error("[SERVER] Write failed")
			} else {
				log.WithFields(fields).Info("[SERVER] Write rejected")
			}
			writeError(w, code, err)
			return
		}

		out, err := json.Marshal(resp)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, '\n')
		if err := s.guard.Remember(ctx, scoped, hash, status, out); err != nil {
			log.WithError(err).WithField("op", op).Warn("[SERVER] Failed to remember response")
		}

		s.metrics.incOp(op, "ok")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(out)
	}
}

func (s *Server) handleCreate(r *http.Request, caller common.Address, body []byte) (any, error) {
	var req createRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	reward, err := parseWei("reward", req.Reward)
	if err != nil {
		return nil, err
	}

	res, err := s.escrow.Create(r.Context(), escrow.CreateRequest{
		Caller:      caller,
		Deadline:    req.Deadline,
		Description: req.Description,
		Reward:      reward,
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"bounty": res.BountyID, "creator": caller.Hex(), "reward": reward.String()}).Info("[SERVER] Bounty created")
	return s.writeResult(res, ledger.StatusOpen), nil
}

func (s *Server) handleSubmit(r *http.Request, caller common.Address, body []byte) (any, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	var req submitRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	res, err := s.escrow.Submit(r.Context(), escrow.SubmitRequest{Caller: caller, ID: id, Work: req.Work})
	if err != nil {
		return nil, err
	}
	res.BountyID = id
	return s.writeResult(res, ledger.StatusSubmitted), nil
}

func (s *Server) handleApprove(r *http.Request, caller common.Address, _ []byte) (any, error) {
	return s.transition(r, caller, s.escrow.Approve, ledger.StatusApproved)
}

func (s *Server) handleReject(r *http.Request, caller common.Address, _ []byte) (any, error) {
	return s.transition(r, caller, s.escrow.Reject, ledger.StatusOpen)
}

func (s *Server) handleCancel(r *http.Request, caller common.Address, _ []byte) (any, error) {
	return s.transition(r, caller, s.escrow.Cancel, ledger.StatusCancelled)
}

type transitionFunc func(ctx context.Context, caller common.Address, id uint64) (escrow.Receipt, error)

func (s *Server) transition(r *http.Request, caller common.Address, fn transitionFunc, next ledger.Status) (any, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	res, err := fn(r.Context(), caller, id)
	if err != nil {
		return nil, err
	}
	res.BountyID = id
	return s.writeResult(res, next), nil
}

func (s *Server) handleWithdrawFees(r *http.Request, caller common.Address, _ []byte) (any, error) {
	res, err := s.escrow.WithdrawFees(r.Context(), caller)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"owner": caller.Hex(), "amount": weiString(res.Amount)}).Info("[SERVER] Fees withdrawn")
	return feesResponse{
		Amount:      weiString(res.Amount),
		TxHash:      res.TxHash,
		ExplorerURL: s.explorerURL(res.TxHash),
		Events:      toEventResponses(res.Events),
	}, nil
}

func (s *Server) writeResult(res escrow.Receipt, next ledger.Status) writeResponse {
	out := writeResponse{
		ID:          res.BountyID,
		Status:      next.String(),
		TxHash:      res.TxHash,
		ExplorerURL: s.explorerURL(res.TxHash),
		Events:      toEventResponses(res.Events),
	}
	if res.Amount != nil {
		out.Amount = res.Amount.String()
	}
	return out
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	lister, ok := s.escrow.(escrow.Lister)
	if !ok {
		writeError(w, http.StatusNotImplemented, errNotImplemented)
		return
	}
	q := r.URL.Query()
	filter, err := ledger.ParseFilter(q.Get("filter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := queryInt(q.Get("limit"), defaultLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}

	bounties, total, err := lister.List(r.Context(), filter, offset, limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	now := s.clock.Now()
	resp := listResponse{Bounties: make([]bountyResponse, 0, len(bounties)), Total: total, Offset: offset, Limit: limit}
	for _, b := range bounties {
		resp.Bounties = append(resp.Bounties, toBountyResponse(b, now))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBounty mirrors the contract view: unknown ids read back as an empty
// record with exists=false rather than an error.
func (s *Server) handleBounty(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := s.escrow.Bounty(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toBountyResponse(b, s.clock.Now()))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sum, err := s.escrow.Summary(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResponse(sum))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if sr, ok := s.escrow.(escrow.StatsReader); ok {
		stats, err := sr.Stats(ctx)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		s.metrics.setStats(stats)
		writeJSON(w, http.StatusOK, toStatsResponse(stats))
		return
	}
	info, err := s.escrow.Info(ctx)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, infoStatsResponse(info))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotImplemented, errNotImplemented)
		return
	}
	q := r.URL.Query()
	after, err := queryInt(q.Get("after"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	limit, err := queryInt(q.Get("limit"), maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if limit <= 0 || limit > maxLimit {
		limit = maxLimit
	}
	events := s.events.Since(uint64(after), limit)
	writeJSON(w, http.StatusOK, eventsResponse{Events: toEventResponses(events), Last: s.events.Last()})
}

func (s *Server) handleFaucet(faucet escrow.Faucet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var req faucetRequest
		if err := decodeBody(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !common.IsHexAddress(req.Address) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: address %q", errBadRequest, req.Address))
			return
		}
		amount, err := parseWei("amount", req.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		addr := common.HexToAddress(req.Address)
		if err := faucet.Fund(r.Context(), addr, amount); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		bal, err := faucet.Balance(r.Context(), addr)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		log.WithFields(log.Fields{"address": addr.Hex(), "amount": amount.String()}).Debug("[SERVER] Faucet funded account")
		writeJSON(w, http.StatusOK, balanceResponse{Address: addr.Hex(), Balance: bal.String()})
	}
}

func (s *Server) handleBalance(faucet escrow.Faucet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue("address")
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%w: address %q", errBadRequest, raw))
			return
		}
		addr := common.HexToAddress(raw)
		bal, err := faucet.Balance(r.Context(), addr)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, balanceResponse{Address: addr.Hex(), Balance: bal.String()})
	}
}

func decodeBody(body []byte, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return fmt.Errorf("%w: empty body", errBadRequest)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid json payload: %v", errBadRequest, err)
	}
	return nil
}

func parseWei(field, value string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a decimal wei amount", errBadRequest, field)
	}
	return v, nil
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid bounty id %q", errBadRequest, r.PathValue("id"))
	}
	return id, nil
}

func queryInt(value string, def int) (int, error) {
	if value == "" {
		return def, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", errBadRequest, value)
	}
	return n, nil
}

func statusFor(err error) int {
	switch ledger.Kind(err) {
	case ledger.ErrNotFound:
		return http.StatusNotFound
	case ledger.ErrInvalidState:
		return http.StatusConflict
	case ledger.ErrUnauthorized:
		return http.StatusForbidden
	case ledger.ErrInvalidArgument:
		return http.StatusBadRequest
	case ledger.ErrInsufficientFunds:
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, escrow.ErrReadOnly):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func resultFor(status int) string {
	if status >= http.StatusInternalServerError {
		return "failed"
	}
	return "rejected"
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
