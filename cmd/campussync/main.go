// Command campussync loads canonical campus names from a file (one per line)
// into the campuses table and reports names that collide after normalization.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ambassador/referrals/internal/campus"
	"github.com/ambassador/referrals/internal/db"
	"github.com/ambassador/referrals/internal/repo"
)

func main() {
	file := flag.String("file", "-", "campus list, one name per line (- for stdin)")
	dryRun := flag.Bool("dry-run", false, "report changes without writing")
	flag.Parse()

	if err := run(*file, *dryRun, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "campussync: %v\n", err)
		os.Exit(1)
	}
}

func run(file string, dryRun bool, out io.Writer) error {
	_ = godotenv.Load(".env")

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	names, err := readNames(file)
	if err != nil {
		return err
	}

	ctx := context.Background()
	database, err := db.Open(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	report, err := campus.Sync(ctx, repo.NewCampusRepo(database), names, dryRun)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	printReport(out, report, dryRun)
	if len(report.Conflicts) > 0 {
		return fmt.Errorf("%d name(s) conflict with existing campuses", len(report.Conflicts))
	}
	return nil
}

func readNames(file string) ([]string, error) {
	var r io.Reader = os.Stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		names = append(names, scanner.Text())
	}
	return names, scanner.Err()
}

func printReport(out io.Writer, report campus.SyncReport, dryRun bool) {
	verb := "created"
	if dryRun {
		verb = "would create"
	}
	for _, name := range report.Created {
		fmt.Fprintf(out, "%s: %s\n", verb, name)
	}
	for _, name := range report.Skipped {
		fmt.Fprintf(out, "skipped (no letters or digits): %q\n", name)
	}

	conflicts := make([]string, 0, len(report.Conflicts))
	for name := range report.Conflicts {
		conflicts = append(conflicts, name)
	}
	sort.Strings(conflicts)
	for _, name := range conflicts {
		fmt.Fprintf(out, "conflict: %q matches existing %q\n", name, report.Conflicts[name])
	}

	fmt.Fprintf(out, "%d %s, %d unchanged, %d conflicts, %d skipped\n",
		len(report.Created), verb, len(report.Unchanged), len(report.Conflicts), len(report.Skipped))
}
