package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"commitvault/core/state"
	"commitvault/core/types"
	"commitvault/native/commitment"
)

const maxListLimit = 500

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid parameter object: %w", err)
	}
	return nil
}

func (s *Server) handleCommitmentCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	caller, ok := s.requireCaller(w, r, req)
	if !ok {
		return
	}
	var params CreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	arbiter, err := types.ParseAddress(params.Arbiter)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("arbiter: %v", err))
		return
	}
	createParams := commitment.CreateParams{
		Arbiter:     arbiter,
		Description: params.Description,
		StakeAmount: params.StakeAmount,
		Deadline:    params.Deadline,
		Nonce:       params.Nonce,
	}
	if trimmed := strings.TrimSpace(params.PenaltyRecipient); trimmed != "" {
		recipient, err := types.ParseAddress(trimmed)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("penaltyRecipient: %v", err))
			return
		}
		createParams.PenaltyRecipient = &recipient
	}

	c, err := s.engine.Create(caller, createParams)
	s.record(r, req, caller, commitment.DeriveID(caller, arbiter, params.Nonce).Hex(), err)
	if err != nil {
		writeCommitmentError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, formatCommitmentJSON(c, s.engine.Now()))
}

func (s *Server) handleCommitmentGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params IDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := commitment.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	c, err := s.engine.Get(id)
	if err != nil {
		writeCommitmentError(w, req.ID, err)
		return
	}
	now := s.engine.Now()
	out := formatCommitmentJSON(c, now)
	// Actions are reported for the authenticated caller only; anonymous
	// reads get the bare record.
	if caller, err := s.verifier.Caller(r); err == nil {
		for _, action := range commitment.AvailableActions(c, caller, now) {
			out.AvailableActions = append(out.AvailableActions, action.String())
		}
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleCommitmentList(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params ListParams
	if len(req.Params) > 0 {
		if err := decodeSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	filter := state.CommitmentFilter{}
	var err error
	if params.Owner != "" {
		if filter.Owner, err = types.ParseAddress(params.Owner); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("owner: %v", err))
			return
		}
	}
	if params.Arbiter != "" {
		if filter.Arbiter, err = types.ParseAddress(params.Arbiter); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", fmt.Sprintf("arbiter: %v", err))
			return
		}
	}
	if params.Status != "" {
		status, err := commitment.ParseStatus(params.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		filter.Status = &status
	}
	limit := params.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	records, err := s.ledger.Commitments(filter, limit)
	if err != nil {
		writeCommitmentError(w, req.ID, err)
		return
	}
	now := s.engine.Now()
	out := make([]CommitmentJSON, 0, len(records))
	for _, c := range records {
		out = append(out, formatCommitmentJSON(c, now))
	}
	writeResult(w, req.ID, out)
}

// transition returns the handler for one terminal action. The caller is the
// token subject; the engine decides whether that identity may act.
func (s *Server) transition(action commitment.Action) methodHandler {
	return func(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
		caller, ok := s.requireCaller(w, r, req)
		if !ok {
			return
		}
		var params IDParams
		if err := decodeSingleParam(req, &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		id, err := commitment.ParseID(params.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
		res, err := s.engine.Apply(id, action, caller)
		s.record(r, req, caller, id.Hex(), err)
		if err != nil {
			writeCommitmentError(w, req.ID, err)
			return
		}
		writeResult(w, req.ID, formatResolutionJSON(res, s.engine.Now()))
	}
}

// handleCommitmentHistory returns the journaled mutating requests for one
// commitment, oldest first. Rejected attempts are included.
func (s *Server) handleCommitmentHistory(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params IDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := commitment.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, CodeInternal, "internal_error", "audit journal disabled")
		return
	}
	entries, err := s.journal.ByCommitment(r.Context(), id.Hex())
	if err != nil {
		writeCommitmentError(w, req.ID, err)
		return
	}
	out := make([]JournalEntryJSON, 0, len(entries))
	for _, entry := range entries {
		out = append(out, JournalEntryJSON{
			Seq:        entry.Seq,
			OccurredAt: entry.OccurredAt.UnixMilli(),
			Method:     entry.Method,
			Caller:     entry.Caller,
			Digest:     entry.Digest,
			Code:       entry.Code,
			Outcome:    entry.Outcome,
		})
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleAccountBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params BalanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := types.ParseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.ledger.Balance(addr)
	if err != nil {
		writeCommitmentError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, BalanceJSON{Address: addr.Hex(), Balance: balance.Dec()})
}
