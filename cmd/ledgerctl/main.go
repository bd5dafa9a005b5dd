// Command ledgerctl inspects and seeds the claim ledger configured through the
// same environment as the relay.
//
//	ledgerctl count
//	ledgerctl contains <id>...
//	ledgerctl claim <id>...
//
// claim marks recordings as handled so the relay never downloads them.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"recording-relay/internal/config"
	"recording-relay/internal/ledger"
)

func main() {
	_ = godotenv.Load()
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), "usage: ledgerctl count | contains <id>... | claim <id>...")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	l, err := ledger.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer l.Close()

	if err := run(ctx, l, flag.Arg(0), flag.Args()[1:]); err != nil {
		l.Close()
		log.Fatal(err)
	}
}

func run(ctx context.Context, l ledger.Ledger, cmd string, ids []string) error {
	switch cmd {
	case "count":
		n, err := l.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)
	case "contains":
		for _, id := range ids {
			ok, err := l.Contains(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%t\n", id, ok)
		}
	case "claim":
		for _, id := range ids {
			claimed, err := l.TryClaim(ctx, id)
			if err != nil {
				return err
			}
			state := "claimed"
			if !claimed {
				state = "already claimed"
			}
			fmt.Printf("%s\t%s\n", id, state)
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
