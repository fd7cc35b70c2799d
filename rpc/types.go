package rpc

import (
	"encoding/json"
	"net/http"

	"commitvault/native/commitment"
)

const (
	methodCreate           = "commitment_create"
	methodGet              = "commitment_get"
	methodList             = "commitment_list"
	methodConfirmCompleted = "commitment_confirmCompleted"
	methodConfirmFailed    = "commitment_confirmFailed"
	methodClaimExpired     = "commitment_claimExpired"
	methodBalance          = "account_balance"
	methodHistory          = "commitment_history"
)

// MethodForAction returns the RPC method that applies action.
func MethodForAction(action commitment.Action) string {
	switch action {
	case commitment.ActionConfirmCompleted:
		return methodConfirmCompleted
	case commitment.ActionConfirmFailed:
		return methodConfirmFailed
	case commitment.ActionClaimExpired:
		return methodClaimExpired
	default:
		return ""
	}
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`

	digest string
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// CreateParams is the commitment_create parameter object. PenaltyRecipient
// is optional and defaults to the burn address.
type CreateParams struct {
	Arbiter          string `json:"arbiter"`
	PenaltyRecipient string `json:"penaltyRecipient,omitempty"`
	Description      string `json:"description"`
	StakeAmount      uint64 `json:"stakeAmount"`
	Deadline         int64  `json:"deadline"`
	Nonce            uint64 `json:"nonce"`
}

// IDParams addresses one commitment.
type IDParams struct {
	ID string `json:"id"`
}

// ListParams filters commitment_list. All fields are optional.
type ListParams struct {
	Owner   string `json:"owner,omitempty"`
	Arbiter string `json:"arbiter,omitempty"`
	Status  string `json:"status,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// BalanceParams addresses one account.
type BalanceParams struct {
	Address string `json:"address"`
}

// CommitmentJSON is the wire form of a commitment record together with the
// derived view fields computed at the server clock.
type CommitmentJSON struct {
	ID               string   `json:"id"`
	Owner            string   `json:"owner"`
	Arbiter          string   `json:"arbiter"`
	PenaltyRecipient string   `json:"penaltyRecipient"`
	Description      string   `json:"description"`
	StakeAmount      uint64   `json:"stakeAmount"`
	Deadline         int64    `json:"deadline"`
	CreatedAt        int64    `json:"createdAt"`
	Nonce            uint64   `json:"nonce"`
	Status           string   `json:"status"`
	ResolvedAt       int64    `json:"resolvedAt,omitempty"`
	ResolvedBy       string   `json:"resolvedBy,omitempty"`
	Expired          bool     `json:"expired"`
	TimeRemainingMs  int64    `json:"timeRemainingMs"`
	AvailableActions []string `json:"availableActions,omitempty"`
}

// ResolutionJSON reports a committed terminal transition.
type ResolutionJSON struct {
	Commitment  CommitmentJSON `json:"commitment"`
	Action      string         `json:"action"`
	Destination string         `json:"destination"`
	Amount      uint64         `json:"amount"`
	Burned      bool           `json:"burned"`
}

// JournalEntryJSON is one audit journal row in commitment_history.
type JournalEntryJSON struct {
	Seq        int64  `json:"seq"`
	OccurredAt int64  `json:"occurredAt"`
	Method     string `json:"method"`
	Caller     string `json:"caller"`
	Digest     string `json:"digest"`
	Code       int    `json:"code,omitempty"`
	Outcome    string `json:"outcome"`
}

// BalanceJSON is the account_balance result.
type BalanceJSON struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

func formatCommitmentJSON(c *commitment.Commitment, now int64) CommitmentJSON {
	out := CommitmentJSON{
		ID:               c.ID.Hex(),
		Owner:            c.Owner.Hex(),
		Arbiter:          c.Arbiter.Hex(),
		PenaltyRecipient: c.PenaltyRecipient.Hex(),
		Description:      c.Description,
		StakeAmount:      c.StakeAmount,
		Deadline:         c.Deadline,
		CreatedAt:        c.CreatedAt,
		Nonce:            c.Nonce,
		Status:           c.Status.String(),
		Expired:          commitment.IsExpired(c, now),
		TimeRemainingMs:  commitment.TimeRemaining(c, now).Milliseconds(),
	}
	if c.Status.Terminal() {
		out.ResolvedAt = c.ResolvedAt
		out.ResolvedBy = c.ResolvedBy.Hex()
	}
	return out
}

func formatResolutionJSON(res *commitment.Resolution, now int64) ResolutionJSON {
	return ResolutionJSON{
		Commitment:  formatCommitmentJSON(res.Commitment, now),
		Action:      res.Action.String(),
		Destination: res.Destination.Hex(),
		Amount:      res.Amount,
		Burned:      res.Destination.IsBurn(),
	}
}
