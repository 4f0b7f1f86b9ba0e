package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/auth"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/migrate"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/policy"
	"github.com/benjaminmugangu/NEW-VERSION-AYLF-APP-sub003/internal/store/pg"
)

const usage = "usage: migrate [-dsn DSN] up|down|seed|status|policies|bootstrap-national"

func main() {
	log.SetFlags(0)
	dsn := flag.String("dsn", envOr("AYLF_MIGRATE_DSN", os.Getenv("AYLF_DATABASE_URL")), "owner PostgreSQL DSN")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	if len(flag.Args()) == 0 {
		log.Fatal(usage)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	// policies only prints; it needs no connection.
	if cmd == "policies" {
		fmt.Print(policy.Script(policy.MustDefault()))
		return
	}
	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AYLF_MIGRATE_DSN")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db)

	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		if err == nil {
			err = mgr.Apply(ctx, "policies", policy.Render(policy.MustDefault()))
		}
		printAll("applied", applied)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if name != "" {
			fmt.Println("reverted", name)
		}
	case "seed":
		var seeded []string
		seeded, err = mgr.Seed(ctx)
		printAll("seeded", seeded)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		printAll("", history)
	case "bootstrap-national":
		err = bootstrapNational(ctx, db, args)
	default:
		log.Fatalf("unknown command %q\n%s", cmd, usage)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", cmd, err)
	}
}

func bootstrapNational(ctx context.Context, db *sql.DB, args []string) error {
	fs := flag.NewFlagSet("bootstrap-national", flag.ExitOnError)
	id := fs.String("principal", "", "identity provider subject (uuid)")
	email := fs.String("email", "", "principal email")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	p, err := pg.BootstrapNational(ctx, db, auth.Principal{ID: *id, Email: *email, Name: *name})
	if err != nil {
		return err
	}
	fmt.Printf("national coordinator %s (%s) active\n", p.ID, p.Email)
	return nil
}

func printAll(prefix string, items []string) {
	for _, item := range items {
		if prefix == "" {
			fmt.Println(item)
			continue
		}
		fmt.Println(prefix, item)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
