// Command badge_compare derives every user's badge counts from two file-store
// directories and reports users whose counts differ. Run it against a copy of
// the store taken before and after a sweep or migrate-all: neither may change
// what any user sees.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-notify-engine/internal/models"
	"github.com/noah-isme/sma-notify-engine/internal/repository"
	"github.com/noah-isme/sma-notify-engine/internal/service"
	"github.com/noah-isme/sma-notify-engine/pkg/storage"
)

type comparison struct {
	Username  string
	Baseline  models.BadgeCounts
	Candidate models.BadgeCounts
	Missing   bool
}

func (c comparison) match() bool {
	return !c.Missing && c.Baseline == c.Candidate
}

func main() {
	var (
		baselineDir  string
		candidateDir string
		prefix       string
		grace        time.Duration
		at           string
	)

	flag.StringVar(&baselineDir, "baseline", "", "File store directory holding the reference copy")
	flag.StringVar(&candidateDir, "candidate", "", "File store directory holding the copy to check")
	flag.StringVar(&prefix, "prefix", "", "Store key prefix")
	flag.DurationVar(&grace, "grace", 0, "Pending grace window")
	flag.StringVar(&at, "at", "", "Derive as of this RFC3339 instant (defaults to now)")
	flag.Parse()

	if baselineDir == "" || candidateDir == "" {
		log.Fatal("both -baseline and -candidate are required")
	}
	now := time.Now()
	if at != "" {
		parsed, err := time.Parse(time.RFC3339, at)
		if err != nil {
			log.Fatalf("invalid -at: %v", err)
		}
		now = parsed
	}

	ctx := context.Background()
	keys := repository.Keyspace{Prefix: prefix}
	baseline, err := loadSnapshot(ctx, baselineDir, keys)
	if err != nil {
		log.Fatalf("failed to load baseline: %v", err)
	}
	candidate, err := loadSnapshot(ctx, candidateDir, keys)
	if err != nil {
		log.Fatalf("failed to load candidate: %v", err)
	}

	results := compareBadges(baseline, candidate, now, grace)
	printReport(results)

	diffs := 0
	for _, r := range results {
		if !r.match() {
			diffs++
		}
	}
	fmt.Printf("Users: %d, Diffs: %d\n", len(results), diffs)
	if diffs > 0 {
		os.Exit(1)
	}
}

func loadSnapshot(ctx context.Context, dir string, keys repository.Keyspace) (*models.Snapshot, error) {
	files, err := storage.NewFileStore(dir)
	if err != nil {
		return nil, err
	}
	return repository.NewCollectionRepository(files, keys, zap.NewNop()).LoadSnapshot(ctx)
}

// compareBadges derives counts for every user known to the baseline, using
// the role stored there.
func compareBadges(baseline, candidate *models.Snapshot, now time.Time, grace time.Duration) []comparison {
	candidates := make(map[string]*models.User, len(candidate.Users))
	for i := range candidate.Users {
		candidates[candidate.Users[i].Username] = &candidate.Users[i]
	}

	results := make([]comparison, 0, len(baseline.Users))
	for i := range baseline.Users {
		user := &baseline.Users[i]
		res := comparison{
			Username: user.Username,
			Baseline: service.DeriveView(baseline, user, now, grace).Counts,
		}
		if other, ok := candidates[user.Username]; ok {
			res.Candidate = service.DeriveView(candidate, other, now, grace).Counts
		} else {
			res.Missing = true
		}
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Username < results[j].Username })
	return results
}

func printReport(results []comparison) {
	fmt.Println("Badge Compare Report")
	fmt.Println("====================")
	for _, res := range results {
		status := "OK"
		switch {
		case res.Missing:
			status = "MISSING"
		case !res.match():
			status = "DIFF"
		}
		fmt.Printf("[%s] %s\n", status, res.Username)
		if status == "OK" {
			continue
		}
		fmt.Printf("  Baseline:  %+v\n", res.Baseline)
		fmt.Printf("  Candidate: %+v\n", res.Candidate)
	}
}
