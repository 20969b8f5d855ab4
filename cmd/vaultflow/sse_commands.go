package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/brojonat/vaultflow/client"
	"github.com/urfave/cli/v2"
)

func sseCommands() *cli.Command {
	return &cli.Command{
		Name:  "sse",
		Usage: "Server-Sent Events (SSE) streaming commands",
		Subcommands: []*cli.Command{
			streamCommand(),
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream operation status events via SSE (HTTP)",
		ArgsUsage: "[wallet_address]",
		Action: func(c *cli.Context) error {
			walletAddress := c.Args().First()
			jsonOutput := c.Bool("json")

			// Create context that cancels on interrupt
			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigChan
				cancel()
			}()

			if !jsonOutput {
				if walletAddress != "" {
					fmt.Fprintf(os.Stderr, "Connected to SSE stream for wallet: %s\n", walletAddress)
				} else {
					fmt.Fprintf(os.Stderr, "Connected to SSE stream for all wallets\n")
				}
				fmt.Fprintf(os.Stderr, "Streaming status events... (Ctrl+C to stop)\n\n")
			}

			cl := newAPIClient(c)
			err := cl.Stream(ctx, walletAddress, func(event *client.StatusEvent) error {
				if jsonOutput {
					data, _ := json.Marshal(event)
					fmt.Println(string(data))
					return nil
				}

				fmt.Printf("─────────────────────────────────────────────────────\n")
				fmt.Printf("Wallet:     %s\n", event.WalletAddress)
				fmt.Printf("Operation:  %s\n", event.Operation)
				fmt.Printf("Phase:      %s\n", event.Phase)
				if event.TotalSteps > 0 {
					fmt.Printf("Step:       %d/%d\n", event.StepIndex+1, event.TotalSteps)
				}
				if event.Signature != "" {
					fmt.Printf("Signature:  %s\n", event.Signature)
				}
				if event.ErrorMessage != "" {
					fmt.Printf("Error:      %s\n", event.ErrorMessage)
				}
				fmt.Printf("\n")
				return nil
			})
			if err != nil {
				if ctx.Err() != nil {
					// Context cancelled (user interrupt)
					if !jsonOutput {
						fmt.Fprintf(os.Stderr, "\nDisconnected\n")
					}
					return nil
				}
				return fmt.Errorf("error reading SSE stream: %w", err)
			}

			return nil
		},
	}
}
