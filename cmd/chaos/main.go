// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/chaos"
	"librarycatalog/internal/circulation"
	"librarycatalog/internal/config"
	"librarycatalog/internal/server"
)

func main() {
	concurrency := flag.Int("concurrency", 100, "simultaneous borrowers per storm")
	borrowers := flag.Int("borrowers", 10, "distinct users taking part")
	window := flag.Duration("window", 5*time.Second, "observation window per experiment")
	pause := flag.Duration("pause", 2*time.Second, "pause between experiments")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	held, err := run(ctx, logger, *concurrency, *borrowers, *window, *pause)
	if err != nil {
		logger.Error("chaos game day failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if !held {
		os.Exit(2)
	}
}

func run(ctx context.Context, logger *slog.Logger, concurrency, borrowers int, window, pause time.Duration) (bool, error) {
	cfg, err := config.Load()
	if err != nil {
		return false, err
	}

	stores, closeStores, err := server.OpenStores(ctx, cfg, logger)
	if err != nil {
		return false, err
	}
	defer closeStores()

	svcs := server.NewServices(stores, server.Settings{AuthRatePerMin: 6000, AuthRateBurst: borrowers + 1}, logger)

	bookID, userIDs, err := prepare(ctx, svcs, borrowers)
	if err != nil {
		return false, err
	}

	faults := chaos.NewFaults()
	circOpts := []circulation.Option{circulation.WithLogger(logger), circulation.WithLoanPeriod(cfg.LoanPeriod)}
	if stores.Journal != nil {
		circOpts = append(circOpts, circulation.WithJournal(stores.Journal))
	}
	svc := circulation.NewService(stores.Catalog, stores.Users, chaos.NewFaultyLoanStore(stores.Loans, faults), circOpts...)

	engine := chaos.NewEngine(logger)
	engine.RegisterExperiments(chaos.Target{
		Service:     svc,
		Loans:       stores.Loans,
		Faults:      faults,
		BookID:      bookID,
		Borrowers:   userIDs,
		Concurrency: concurrency,
		Window:      window,
		SampleEvery: window / 10,
	})

	return engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:         "borrow-storm",
		Scenarios:    engine.Experiments(),
		Participants: []string{"circulation"},
		Pause:        pause,
	})
}

// prepare creates a fresh book and the borrowers that will fight over it.
func prepare(ctx context.Context, svcs server.Services, borrowers int) (uuid.UUID, []uuid.UUID, error) {
	run := uuid.NewString()[:8]

	author, err := svcs.Catalog.CreateAuthor(ctx, catalog.Author{Name: "Chaos Author " + run})
	if err != nil {
		return uuid.Nil, nil, err
	}
	book, err := svcs.Catalog.AddBook(ctx, catalog.Book{
		Title:    "Borrow Storm " + run,
		ISBN:     "chaos-" + run,
		AuthorID: author.ID,
	})
	if err != nil {
		return uuid.Nil, nil, err
	}

	ids := make([]uuid.UUID, 0, borrowers)
	for i := range borrowers {
		email := fmt.Sprintf("chaos-%s-%d@example.com", run, i)
		user, err := svcs.Membership.Register(ctx, email, fmt.Sprintf("Chaos Reader %d", i), "chaos-password")
		if err != nil {
			return uuid.Nil, nil, err
		}
		ids = append(ids, user.ID)
	}
	return book.ID, ids, nil
}
