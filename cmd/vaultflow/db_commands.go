package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/brojonat/vaultflow/service/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"
)

func listOperationsCommand() *cli.Command {
	return &cli.Command{
		Name:      "list-operations",
		Usage:     "List recorded operations for a wallet",
		Aliases:   []string{"ls"},
		ArgsUsage: "WALLET_ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of operations",
				Value:   50,
			},
			&cli.IntFlag{
				Name:    "offset",
				Aliases: []string{"o"},
				Usage:   "Number of operations to skip",
				Value:   0,
			},
			&cli.StringFlag{
				Name:    "status",
				Aliases: []string{"s"},
				Usage:   "Filter by status (running, success, error)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: wallet address")
			}
			wallet := c.Args().First()

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ops, err := store.ListOperationsByWallet(context.Background(), db.ListOperationsByWalletParams{
				WalletAddress: wallet,
				Limit:         int32(c.Int("limit")),
				Offset:        int32(c.Int("offset")),
			})
			if err != nil {
				return fmt.Errorf("failed to list operations: %w", err)
			}

			// Filter by status if specified
			statusFilter := c.String("status")
			if statusFilter != "" {
				filtered := make([]*db.Operation, 0)
				for _, op := range ops {
					if op.Status == statusFilter {
						filtered = append(filtered, op)
					}
				}
				ops = filtered
			}

			if c.Bool("json") {
				return outputJSON(ops)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tOPERATION\tVAULT\tSTATUS\tSTEPS\tSTARTED\tCOMPLETED")
			for _, op := range ops {
				completed := "-"
				if op.CompletedAt != nil {
					completed = op.CompletedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
					op.ID,
					op.Operation,
					op.VaultState,
					op.Status,
					op.TotalSteps,
					op.StartedAt.Format(time.RFC3339),
					completed,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d operations\n", len(ops))
			return nil
		},
	}
}

func getOperationCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-operation",
		Usage:     "Get one operation record with its step signatures",
		Aliases:   []string{"get"},
		ArgsUsage: "<operation-id>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: operation ID")
			}

			id, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("invalid operation ID %q", c.Args().First())
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			op, err := store.GetOperation(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to get operation: %w", err)
			}

			sigs, err := store.ListOperationSignatures(context.Background(), id)
			if err != nil {
				return fmt.Errorf("failed to list signatures: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"operation":  op,
					"signatures": sigs,
				})
			}

			// Pretty output
			fmt.Printf("ID:          %d\n", op.ID)
			fmt.Printf("Wallet:      %s\n", op.WalletAddress)
			fmt.Printf("Vault:       %s\n", op.VaultState)
			fmt.Printf("Operation:   %s\n", op.Operation)
			fmt.Printf("Status:      %s\n", op.Status)
			if op.ErrorMessage != nil {
				fmt.Printf("Error:       %s\n", *op.ErrorMessage)
			}
			fmt.Printf("Total Steps: %d\n", op.TotalSteps)
			fmt.Printf("Started:     %s\n", op.StartedAt.Format(time.RFC3339))
			if op.CompletedAt != nil {
				fmt.Printf("Completed:   %s\n", op.CompletedAt.Format(time.RFC3339))
			} else {
				fmt.Printf("Completed:   (still running)\n")
			}

			if len(sigs) > 0 {
				fmt.Printf("\nSignatures:\n")
				for _, sig := range sigs {
					fmt.Printf("  [%d] %s\n", sig.StepIndex, sig.Label)
					fmt.Printf("      %s\n", sig.Signature)
					fmt.Printf("      confirmed %s\n", sig.ConfirmedAt.Format(time.RFC3339))
				}
			}

			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	// Try to get from parent context first (for global flags)
	dbURL := c.String("database-url")
	if dbURL == "" && c.App != nil {
		// Try environment variable directly if flag not found
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// Helper function to output JSON
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
