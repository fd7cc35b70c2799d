package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"commitvault/core/types"
	core "commitvault/native/commitment"
	"commitvault/rpc"
	sdk "commitvault/sdk/commitment"
)

const requestTimeout = 30 * time.Second

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, usage())
	}
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

// handleCallError renders protocol rejections with their code and
// everything else as a call failure.
func handleCallError(w io.Writer, err error) int {
	var rpcErr *sdk.RPCError
	if errors.As(err, &rpcErr) {
		fmt.Fprintf(w, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		return 1
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

// newOrchestrator builds a client for caller. Credentials are resolved only
// when signed is set so read-only commands never prompt.
func newOrchestrator(caller types.Address, issuer string, signed bool) (*sdk.Orchestrator, *sdk.Client, error) {
	opts := []sdk.Option{sdk.WithClock(cliNow), sdk.WithCaller(caller)}
	if signed {
		key, err := authSecret()
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, sdk.WithCredentials(caller, key, issuer))
	}
	client, err := sdk.New(rpcEndpoint, opts...)
	if err != nil {
		return nil, nil, err
	}
	return sdk.NewOrchestrator(client, cliRetry), client, nil
}

func runCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create", stderr)
	var (
		caller      string
		arbiter     string
		recipient   string
		description string
		stake       string
		deadline    string
		issuer      string
		asJSON      bool
	)
	fs.StringVar(&caller, "caller", "", "owner address creating the commitment")
	fs.StringVar(&arbiter, "arbiter", "", "arbiter address")
	fs.StringVar(&recipient, "penalty-recipient", "", "optional recipient of a forfeited stake (default: burn)")
	fs.StringVar(&description, "description", "", "task description")
	fs.StringVar(&stake, "stake", "", "stake in display units, e.g. 1.5")
	fs.StringVar(&deadline, "deadline", "", "deadline as +duration (e.g. +72h, +3d) or RFC3339 timestamp")
	fs.StringVar(&issuer, "issuer", defaultIssuer, "token issuer")
	fs.BoolVar(&asJSON, "json", false, "print JSON instead of a summary")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	owner, err := requireAddress("--caller", caller)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(arbiter) == "" {
		return printError(stderr, "--arbiter is required")
	}
	if strings.TrimSpace(description) == "" {
		return printError(stderr, "--description is required")
	}
	if strings.TrimSpace(stake) == "" {
		return printError(stderr, "--stake is required")
	}
	amount, err := sdk.ParseAmount(stake)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if amount == 0 {
		return printError(stderr, "--stake must be positive")
	}
	due, err := parseDeadline(deadline, cliNow())
	if err != nil {
		return printError(stderr, err.Error())
	}

	orch, _, err := newOrchestrator(owner, issuer, true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	c, err := orch.Create(ctx, sdk.CreateRequest{
		Arbiter:          arbiter,
		PenaltyRecipient: recipient,
		Description:      description,
		StakeAmount:      amount,
		Deadline:         due,
	})
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeCommitment(stdout, c, nil, asJSON)
}

func runGet(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("get", stderr)
	var (
		id     string
		caller string
		asJSON bool
	)
	fs.StringVar(&id, "id", "", "commitment identifier")
	fs.StringVar(&caller, "caller", "", "optional address whose roles and actions to show")
	fs.BoolVar(&asJSON, "json", false, "print JSON instead of a summary")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	commitmentID, err := requireID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	var viewer types.Address
	if strings.TrimSpace(caller) != "" {
		if viewer, err = types.ParseAddress(strings.TrimSpace(caller)); err != nil {
			return printError(stderr, "--caller: "+err.Error())
		}
	}
	orch, _, err := newOrchestrator(viewer, "", false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	view, err := orch.Load(ctx, commitmentID)
	if err != nil {
		return handleCallError(stderr, err)
	}
	if strings.TrimSpace(caller) == "" {
		view.AvailableActions = nil
	}
	return writeCommitment(stdout, view.Commitment, view, asJSON)
}

func runList(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("list", stderr)
	var params rpc.ListParams
	fs.StringVar(&params.Owner, "owner", "", "filter by owner address")
	fs.StringVar(&params.Arbiter, "arbiter", "", "filter by arbiter address")
	fs.StringVar(&params.Status, "status", "", "filter by status (pending, completed, failed)")
	fs.IntVar(&params.Limit, "limit", 50, "maximum number of records")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if params.Status != "" {
		if _, err := core.ParseStatus(params.Status); err != nil {
			return printError(stderr, "--status must be pending, completed or failed")
		}
	}
	if params.Limit <= 0 {
		return printError(stderr, "--limit must be positive")
	}
	_, client, err := newOrchestrator(types.Address{}, "", false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	items, err := client.List(ctx, params)
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeJSON(stdout, items)
}

func runHistory(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("history", stderr)
	var (
		id     string
		asJSON bool
	)
	fs.StringVar(&id, "id", "", "commitment identifier")
	fs.BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	commitmentID, err := requireID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	_, client, err := newOrchestrator(types.Address{}, "", false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	entries, err := client.History(ctx, commitmentID)
	if err != nil {
		return handleCallError(stderr, err)
	}
	if asJSON {
		return writeJSON(stdout, entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No journaled requests.")
		return 0
	}
	for _, entry := range entries {
		at := time.UnixMilli(entry.OccurredAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(stdout, "%d  %s  %-28s %s  %s\n", entry.Seq, at, entry.Method, entry.Caller, entry.Outcome)
	}
	return 0
}

var transitions = map[string]core.Action{
	"complete": core.ActionConfirmCompleted,
	"fail":     core.ActionConfirmFailed,
	"claim":    core.ActionClaimExpired,
}

func runTransition(name string, args []string, stdout, stderr io.Writer) int {
	action := transitions[name]
	fs := newFlagSet(name, stderr)
	var (
		id     string
		caller string
		issuer string
		asJSON bool
	)
	fs.StringVar(&id, "id", "", "commitment identifier")
	fs.StringVar(&caller, "caller", "", "address submitting the action")
	fs.StringVar(&issuer, "issuer", defaultIssuer, "token issuer")
	fs.BoolVar(&asJSON, "json", false, "print JSON instead of a summary")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	commitmentID, err := requireID(id)
	if err != nil {
		return printError(stderr, err.Error())
	}
	from, err := requireAddress("--caller", caller)
	if err != nil {
		return printError(stderr, err.Error())
	}
	orch, _, err := newOrchestrator(from, issuer, true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var c *core.Commitment
	switch action {
	case core.ActionConfirmCompleted:
		c, err = orch.ConfirmCompleted(ctx, commitmentID)
	case core.ActionConfirmFailed:
		c, err = orch.ConfirmFailed(ctx, commitmentID)
	default:
		c, err = orch.ClaimExpired(ctx, commitmentID)
	}
	if err != nil {
		return handleCallError(stderr, err)
	}
	return writeCommitment(stdout, c, nil, asJSON)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	var address string
	fs.StringVar(&address, "address", "", "account address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	addr, err := requireAddress("--address", address)
	if err != nil {
		return printError(stderr, err.Error())
	}
	_, client, err := newOrchestrator(types.Address{}, "", false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	balance, err := client.Balance(ctx, addr)
	if err != nil {
		return handleCallError(stderr, err)
	}
	fmt.Fprintf(stdout, "%s: %s\n", addr.Hex(), formatBalance(balance))
	return 0
}

// formatBalance renders base units in display units when they fit in 64
// bits and falls back to the raw integer otherwise.
func formatBalance(raw string) string {
	if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return sdk.FormatAmount(v)
	}
	return raw + " (base units)"
}

func requireAddress(flagName, value string) (types.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return types.Address{}, fmt.Errorf("%s is required", flagName)
	}
	addr, err := types.ParseAddress(trimmed)
	if err != nil {
		return types.Address{}, fmt.Errorf("%s: %v", flagName, err)
	}
	return addr, nil
}

func requireID(value string) (core.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return core.ID{}, fmt.Errorf("--id is required")
	}
	id, err := core.ParseID(trimmed)
	if err != nil {
		return core.ID{}, fmt.Errorf("--id must be a 0x-prefixed 32-byte hex string")
	}
	return id, nil
}

// parseDeadline accepts "+<duration>" relative to now, with a "d" suffix
// for days, or an absolute RFC3339 timestamp.
func parseDeadline(value string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("--deadline is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		dur, err := parseDuration(strings.TrimSpace(trimmed[1:]))
		if err != nil {
			return time.Time{}, err
		}
		if dur <= 0 {
			return time.Time{}, fmt.Errorf("deadline duration must be positive")
		}
		return now.Add(dur), nil
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid RFC3339 deadline")
	}
	if !ts.After(now) {
		return time.Time{}, fmt.Errorf("deadline must be in the future")
	}
	return ts, nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("invalid deadline duration")
	}
	if days, ok := strings.CutSuffix(strings.ToLower(value), "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil || days == "" {
			return 0, fmt.Errorf("invalid deadline duration")
		}
		return time.Duration(n * 24 * float64(time.Hour)), nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid deadline duration")
	}
	return dur, nil
}

func writeJSON(w io.Writer, v interface{}) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return printError(w, err.Error())
	}
	return 0
}

type commitmentOutput struct {
	ID               string   `json:"id"`
	Status           string   `json:"status"`
	Description      string   `json:"description"`
	Stake            string   `json:"stake"`
	StakeAmount      uint64   `json:"stakeAmount"`
	Owner            string   `json:"owner"`
	Arbiter          string   `json:"arbiter"`
	PenaltyRecipient string   `json:"penaltyRecipient"`
	Deadline         string   `json:"deadline"`
	ResolvedBy       string   `json:"resolvedBy,omitempty"`
	Expired          *bool    `json:"expired,omitempty"`
	TimeRemaining    string   `json:"timeRemaining,omitempty"`
	AvailableActions []string `json:"availableActions,omitempty"`
}

func newCommitmentOutput(c *core.Commitment, view *sdk.View) commitmentOutput {
	out := commitmentOutput{
		ID:               c.ID.Hex(),
		Status:           c.Status.String(),
		Description:      c.Description,
		Stake:            sdk.FormatAmount(c.StakeAmount),
		StakeAmount:      c.StakeAmount,
		Owner:            c.Owner.Hex(),
		Arbiter:          c.Arbiter.Hex(),
		PenaltyRecipient: c.PenaltyRecipient.Hex(),
		Deadline:         c.DeadlineTime().Format(time.RFC3339),
	}
	if c.PenaltyRecipient.IsBurn() {
		out.PenaltyRecipient = "burn"
	}
	if c.Status.Terminal() {
		out.ResolvedBy = c.ResolvedBy.Hex()
	}
	if view != nil {
		expired := view.Expired
		out.Expired = &expired
		if !c.Status.Terminal() {
			out.TimeRemaining = core.FormatTimeRemaining(view.TimeRemaining)
		}
		if len(view.AvailableActions) > 0 {
			out.AvailableActions = actionNames(view.AvailableActions)
		}
	}
	return out
}

func writeCommitment(w io.Writer, c *core.Commitment, view *sdk.View, asJSON bool) int {
	out := newCommitmentOutput(c, view)
	if asJSON {
		return writeJSON(w, out)
	}
	fmt.Fprintf(w, "ID:                %s\n", out.ID)
	fmt.Fprintf(w, "Status:            %s\n", c.Status.Label())
	fmt.Fprintf(w, "Description:       %s\n", out.Description)
	fmt.Fprintf(w, "Stake:             %s\n", out.Stake)
	fmt.Fprintf(w, "Owner:             %s\n", out.Owner)
	fmt.Fprintf(w, "Arbiter:           %s\n", out.Arbiter)
	fmt.Fprintf(w, "Penalty recipient: %s\n", out.PenaltyRecipient)
	fmt.Fprintf(w, "Deadline:          %s\n", out.Deadline)
	if out.ResolvedBy != "" {
		fmt.Fprintf(w, "Resolved by:       %s\n", out.ResolvedBy)
	}
	if out.TimeRemaining != "" {
		fmt.Fprintf(w, "Time remaining:    %s\n", out.TimeRemaining)
	}
	if len(out.AvailableActions) > 0 {
		fmt.Fprintf(w, "Available actions: %s\n", strings.Join(out.AvailableActions, ", "))
	}
	return 0
}

func actionNames(actions []core.Action) []string {
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, a.String())
	}
	return names
}
