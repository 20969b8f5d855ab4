package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/brojonat/vaultflow/client"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// newAPIClient builds an HTTP client for the server named by the global
// --server-url flag.
func newAPIClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func depositCommand() *cli.Command {
	return &cli.Command{
		Name:      "deposit",
		Usage:     "Deposit tokens into a vault (and stake when the vault has a farm)",
		ArgsUsage: "VAULT_STATE AMOUNT",
		Flags:     operationFlags(),
		Action: func(c *cli.Context) error {
			return runOperation(c, "deposit", true)
		},
	}
}

func withdrawCommand() *cli.Command {
	return &cli.Command{
		Name:      "withdraw",
		Usage:     "Withdraw tokens from a vault (unstaking first when needed)",
		ArgsUsage: "VAULT_STATE AMOUNT",
		Flags:     operationFlags(),
		Action: func(c *cli.Context) error {
			return runOperation(c, "withdraw", true)
		},
	}
}

func claimCommand() *cli.Command {
	return &cli.Command{
		Name:      "claim",
		Usage:     "Claim pending farm rewards from a vault",
		ArgsUsage: "VAULT_STATE",
		Flags:     operationFlags(),
		Action: func(c *cli.Context) error {
			return runOperation(c, "claim", false)
		},
	}
}

func operationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "wait",
			Aliases: []string{"w"},
			Usage:   "Block until the operation reaches a terminal phase",
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Value:   5 * time.Minute,
			Usage:   "How long to wait with --wait",
		},
	}
}

// runOperation starts an operation over the HTTP API, optionally blocking
// until it finishes.
func runOperation(c *cli.Context, operation string, needsAmount bool) error {
	wantArgs := 1
	if needsAmount {
		wantArgs = 2
	}
	if c.NArg() < wantArgs {
		return fmt.Errorf("usage: vaultflow %s %s", operation, usageArgs(needsAmount))
	}

	vaultState := c.Args().Get(0)
	var amount uint64
	if needsAmount {
		var err error
		amount, err = strconv.ParseUint(c.Args().Get(1), 10, 64)
		if err != nil || amount == 0 {
			return fmt.Errorf("amount must be a positive integer in base units")
		}
	}

	jsonOutput := c.Bool("json")
	cl := newAPIClient(c)

	accepted, err := cl.StartOperation(context.Background(), operation, vaultState, amount)
	if err != nil {
		return fmt.Errorf("failed to start operation: %w", err)
	}

	if !c.Bool("wait") {
		if jsonOutput {
			data, _ := json.Marshal(accepted)
			fmt.Println(string(data))
		} else {
			fmt.Printf("✓ Operation accepted\n")
			fmt.Printf("  Operation: %s\n", accepted.Operation)
			fmt.Printf("  Wallet:    %s\n", accepted.WalletAddress)
			fmt.Printf("  Vault:     %s\n", accepted.VaultState)
			fmt.Printf("\nFollow progress with: vaultflow status\n")
		}
		return nil
	}

	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "Waiting for %s on vault %s...\n", operation, vaultState)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	event, err := cl.Await(ctx, accepted.WalletAddress, func(e *client.StatusEvent) bool {
		return e.Terminal()
	})
	if err != nil {
		return fmt.Errorf("failed waiting for operation: %w", err)
	}

	if jsonOutput {
		data, _ := json.Marshal(event)
		fmt.Println(string(data))
	} else {
		printStatusEvent(event)
	}

	if event.Phase == "error" {
		return fmt.Errorf("operation failed: %s", event.ErrorMessage)
	}
	return nil
}

func usageArgs(needsAmount bool) string {
	if needsAmount {
		return "VAULT_STATE AMOUNT"
	}
	return "VAULT_STATE"
}

func planCommand() *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "Build an operation plan without executing it (outputs JSON)",
		ArgsUsage: "OPERATION VAULT_STATE [AMOUNT]",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "jq",
				Usage:   "jq filter expression applied to the plan JSON (can be specified multiple times)",
				Aliases: []string{"q"},
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("usage: vaultflow plan OPERATION VAULT_STATE [AMOUNT]")
			}

			operation := c.Args().Get(0)
			vaultState := c.Args().Get(1)
			var amount uint64
			if c.NArg() > 2 {
				var err error
				amount, err = strconv.ParseUint(c.Args().Get(2), 10, 64)
				if err != nil {
					return fmt.Errorf("invalid amount %q", c.Args().Get(2))
				}
			}

			cl := newAPIClient(c)
			plan, err := cl.PlanOperation(context.Background(), operation, vaultState, amount)
			if err != nil {
				return fmt.Errorf("failed to build plan: %w", err)
			}

			jqFilters := c.StringSlice("jq")
			if len(jqFilters) == 0 {
				data, _ := json.MarshalIndent(plan, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			// Round-trip through interface{} so gojq sees plain JSON values.
			raw, _ := json.Marshal(plan)
			var doc interface{}
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("failed to prepare plan for filtering: %w", err)
			}

			for _, filter := range jqFilters {
				query, err := gojq.Parse(filter)
				if err != nil {
					return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
				}
				code, err := gojq.Compile(query)
				if err != nil {
					return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
				}

				iter := code.Run(doc)
				for {
					v, ok := iter.Next()
					if !ok {
						break
					}
					if err, isErr := v.(error); isErr {
						return fmt.Errorf("jq filter %q: %w", filter, err)
					}
					out, _ := json.Marshal(v)
					fmt.Println(string(out))
				}
			}
			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the server's current operation status",
		Action: func(c *cli.Context) error {
			cl := newAPIClient(c)
			status, err := cl.Status(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get status: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(status, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Operation:  %s\n", valueOrDash(status.Operation))
			fmt.Printf("Phase:      %s\n", status.Phase)
			if status.TotalSteps > 0 {
				fmt.Printf("Step:       %d/%d\n", status.StepIndex+1, status.TotalSteps)
			}
			if status.LastSignature != "" {
				fmt.Printf("Signature:  %s\n", status.LastSignature)
			}
			if status.ErrorMessage != "" {
				fmt.Printf("Error:      %s\n", status.ErrorMessage)
			}
			return nil
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Acknowledge a finished operation so the server accepts a new one",
		Action: func(c *cli.Context) error {
			cl := newAPIClient(c)
			if err := cl.ResetStatus(context.Background()); err != nil {
				return fmt.Errorf("failed to reset status: %w", err)
			}
			fmt.Println("✓ Status reset")
			return nil
		},
	}
}

func vaultCommand() *cli.Command {
	return &cli.Command{
		Name:      "vault",
		Usage:     "Show the decoded on-chain state of a vault",
		ArgsUsage: "VAULT_STATE",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("vault state address is required")
			}

			cl := newAPIClient(c)
			vault, err := cl.GetVault(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get vault: %w", err)
			}

			if c.Bool("json") {
				data, _ := json.MarshalIndent(vault, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("Address:      %s\n", vault.Address)
			fmt.Printf("Token Mint:   %s\n", vault.TokenMint)
			fmt.Printf("Token Vault:  %s\n", vault.TokenVault)
			fmt.Printf("Shares Mint:  %s\n", vault.SharesMint)
			fmt.Printf("Total Tokens: %d\n", vault.TotalTokens)
			fmt.Printf("Total Shares: %d\n", vault.TotalShares)
			if vault.FarmState != "" {
				fmt.Printf("Farm State:   %s\n", vault.FarmState)
			} else {
				fmt.Printf("Farm State:   (none)\n")
			}
			return nil
		},
	}
}

func printStatusEvent(event *client.StatusEvent) {
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	if event.Phase == "success" {
		fmt.Println("✓ Operation Succeeded")
	} else {
		fmt.Println("✗ Operation Failed")
	}
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("Operation:  %s\n", event.Operation)
	fmt.Printf("Wallet:     %s\n", event.WalletAddress)
	fmt.Printf("Phase:      %s\n", event.Phase)
	if event.TotalSteps > 0 {
		fmt.Printf("Steps:      %d\n", event.TotalSteps)
	}
	if event.Signature != "" {
		fmt.Printf("Signature:  %s\n", event.Signature)
	}
	if event.ErrorMessage != "" {
		fmt.Printf("Error:      %s\n", event.ErrorMessage)
	}
	fmt.Printf("Published:  %s\n", event.PublishedAt.Format(time.RFC3339))
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func valueOrDash(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
