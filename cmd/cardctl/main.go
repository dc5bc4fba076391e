package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"
	_ "time/tzdata"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/poyrazK/cardgate/internal/adapters/export"
	"github.com/poyrazK/cardgate/internal/adapters/repository"
	"github.com/poyrazK/cardgate/internal/config"
	"github.com/poyrazK/cardgate/internal/core/domain"
	"github.com/poyrazK/cardgate/internal/core/ports"
	"github.com/poyrazK/cardgate/internal/core/services"
)

const usage = "expected 'generate', 'list', 'export', 'stats', 'sweep' or 'delete' subcommands"

func main() {
	os.Exit(cardctl())
}

// cardctl returns the process exit code so deferred cleanup runs before exit.
func cardctl() int {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("failed to load config: %v", err)
		return 1
	}
	// CLI output goes to stdout; keep service logs on stderr.
	logger := cfg.NewLogger(os.Stderr)

	db, err := sql.Open("pgx", cfg.Store.DatabaseURL)
	if err != nil {
		log.Printf("failed to open database: %v", err)
		return 1
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("failed to close database: %v", err)
		}
	}()

	repo := repository.NewPostgresRepository(db)
	if err := repo.Migrate(context.Background()); err != nil {
		log.Printf("failed to apply schema: %v", err)
		return 1
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Print(err)
		return 1
	}
	svc := services.NewCardService(repo, cfg.Policy(), logger)

	if err := run(os.Args, os.Stdout, svc, loc); err != nil {
		log.Print(err)
		return 1
	}
	return 0
}

func run(args []string, out io.Writer, svc ports.CardService, loc *time.Location) error {
	if len(args) < 2 {
		return errors.New(usage)
	}
	ctx := context.Background()

	switch args[1] {
	case "generate":
		fs := flag.NewFlagSet("generate", flag.ContinueOnError)
		prefix := fs.String("prefix", "", "Card prefix (1-16 of A-Z, a-z, 0-9, _)")
		count := fs.Int("count", 1, "Number of cards to generate")
		length := fs.Int("length", 0, "Random suffix length (default from config)")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		return generateCards(ctx, svc, *prefix, *count, *length, out)

	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		status := fs.String("status", "", "Filter by status (UNUSED, ACTIVE, EXPIRED)")
		prefix := fs.String("prefix", "", "Filter by prefix")
		limit := fs.Int("limit", 50, "Maximum rows")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		return listCards(ctx, svc, *status, *prefix, *limit, loc, out)

	case "export":
		fs := flag.NewFlagSet("export", flag.ContinueOnError)
		prefix := fs.String("prefix", "", "Only export this prefix")
		format := fs.String("format", "txt", "txt or xlsx")
		path := fs.String("out", "", "Output file (default: generated name in the current directory)")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		return exportCards(ctx, svc, *prefix, *format, *path, loc, out)

	case "stats":
		return printStats(ctx, svc, out)

	case "sweep":
		n, err := svc.ExpireStale(ctx)
		if err != nil {
			return fmt.Errorf("sweep failed after expiring %d cards: %w", n, err)
		}
		fmt.Fprintf(out, "Expired %d cards\n", n)
		return nil

	case "delete":
		fs := flag.NewFlagSet("delete", flag.ContinueOnError)
		id := fs.String("id", "", "Card UUID to delete")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if *id == "" {
			return errors.New("ID is required for deletion")
		}
		if err := svc.DeleteCard(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(out, "Card %s deleted\n", *id)
		return nil
	}
	return fmt.Errorf("unknown subcommand: %s", args[1])
}

func generateCards(ctx context.Context, svc ports.CardService, prefix string, count, length int, out io.Writer) error {
	cards, err := svc.GenerateCards(ctx, prefix, count, length)
	for _, c := range cards {
		fmt.Fprintln(out, c.FullCode)
	}
	if err != nil {
		return fmt.Errorf("generated %d of %d cards: %w", len(cards), count, err)
	}
	fmt.Fprintf(out, "Generated %d cards with prefix %s\n", len(cards), prefix)
	return nil
}

func listCards(ctx context.Context, svc ports.CardService, status, prefix string, limit int, loc *time.Location, out io.Writer) error {
	filter := domain.CardFilter{Prefix: prefix, Limit: limit}
	if status != "" {
		st, err := domain.ParseStatus(status)
		if err != nil {
			return err
		}
		filter.Status = st
	}

	cards, total, err := svc.ListCards(ctx, filter)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%-36s %-28s %-8s %-20s %-20s\n", "ID", "Code", "Status", "Machine", "Expires")
	for _, c := range cards {
		machine, expires := "-", "-"
		if c.MachineCode != nil {
			machine = *c.MachineCode
		}
		if c.ExpireAt != nil {
			expires = c.ExpireAt.In(loc).Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(out, "%-36s %-28s %-8s %-20s %-20s\n", c.ID, c.FullCode, c.Status, machine, expires)
	}
	fmt.Fprintf(out, "Showing %d of %d cards\n", len(cards), total)
	return nil
}

func exportCards(ctx context.Context, svc ports.CardService, prefix, format, path string, loc *time.Location, out io.Writer) error {
	exporter, err := export.ForFormat(format)
	if err != nil {
		return err
	}
	cards, err := svc.ExportUnused(ctx, prefix)
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		return errors.New("no unused cards to export")
	}

	meta := ports.ExportMeta{Prefix: prefix, ExportedAt: svc.Now(), Location: loc}
	if path == "" {
		path = export.FileName(exporter, meta)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := exporter.Export(f, cards, meta); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Exported %d unused cards to %s\n", len(cards), path)
	return nil
}

func printStats(ctx context.Context, svc ports.CardService, out io.Writer) error {
	s, err := svc.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Total:    %d\n", s.Total)
	fmt.Fprintf(out, "Unused:   %d\n", s.Unused)
	fmt.Fprintf(out, "Active:   %d\n", s.Active)
	fmt.Fprintf(out, "Expired:  %d\n", s.Expired)
	fmt.Fprintf(out, "Prefixes: %d\n", s.Prefixes)
	return nil
}
