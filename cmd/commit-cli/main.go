package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"commitvault/cmd/internal/secret"
	"commitvault/config"
	sdk "commitvault/sdk/commitment"
)

const (
	rpcURLEnv     = "COMMITVAULT_RPC"
	defaultIssuer = "commitvault"
)

var (
	rpcEndpoint = defaultRPCEndpoint()
	cliNow      = time.Now
	cliRetry    = sdk.DefaultRetryPolicy
	authSecret  = secret.NewSource(config.EnvAuthSecret, "auth secret").Get
)

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "create":
		return runCreate(args[1:], stdout, stderr)
	case "get":
		return runGet(args[1:], stdout, stderr)
	case "list":
		return runList(args[1:], stdout, stderr)
	case "complete":
		return runTransition("complete", args[1:], stdout, stderr)
	case "fail":
		return runTransition("fail", args[1:], stdout, stderr)
	case "claim":
		return runTransition("claim", args[1:], stdout, stderr)
	case "history":
		return runHistory(args[1:], stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(rpcURLEnv)); v != "" {
		return v
	}
	return "http://127.0.0.1:8547"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func usage() string {
	return strings.TrimSpace(`Usage:
  commit-cli [--rpc URL] <command> [flags]

Commands:
  create    Lock a stake behind a commitment
  get       Show a commitment and the actions open to --caller
  list      List commitments by owner, arbiter or status
  complete  Confirm completion as the arbiter (returns the stake)
  fail      Confirm failure as the arbiter (forfeits the stake)
  claim     Fail an expired commitment (anyone)
  history   Show the journaled requests for a commitment
  balance   Show an account balance

Mutating commands sign a token with the secret from COMMITVAULT_AUTH_SECRET,
or prompt for it when run interactively. Amounts are in display units of
10^9 base units.
`)
}
