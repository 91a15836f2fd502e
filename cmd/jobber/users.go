package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/glimte/jobber-go/health"
	"github.com/glimte/jobber-go/internal/store/memory"
	"github.com/glimte/jobber-go/internal/store/mongostore"
	"github.com/glimte/jobber-go/topology"
	"github.com/glimte/jobber-go/users"
	"github.com/spf13/cobra"
)

func newUsersCmd(configPath *string) *cobra.Command {
	var inMemory bool

	cmd := &cobra.Command{
		Use:   "users",
		Short: "Run the users service consumers",
		Long: `Consumes the buyer, seller, review and gig queues, keeps buyer and seller
documents up to date and relays reviews and seller samples to the gig service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath, "users", os.Stdout)
			if err != nil {
				return err
			}
			defer a.close()

			buyers, sellers, err := openUserStore(ctx, a, inMemory)
			if err != nil {
				return err
			}

			a.watchQueues(topology.UsersRoutes()...)
			consumers := users.NewConsumers(buyers, sellers, a.newProducer(),
				users.WithLogger(a.logger),
				users.WithMarkers(a.markers()),
				users.WithConsumerOptions(a.consumerOptions()...))

			a.logger.Info("users service started")
			return a.run(ctx,
				func(ctx context.Context) error { return consumers.ConsumeBuyerDirectMessage(ctx) },
				func(ctx context.Context) error { return consumers.ConsumeSellerDirectMessage(ctx) },
				func(ctx context.Context) error { return consumers.ConsumeReviewFanoutMessages(ctx) },
				func(ctx context.Context) error { return consumers.ConsumeSeedGigDirectMessages(ctx) },
			)
		},
	}

	cmd.Flags().BoolVar(&inMemory, "memory-store", false, "Keep buyers and sellers in process memory instead of MongoDB")

	return cmd
}

// openUserStore connects to MongoDB and ensures the unique indexes, or
// returns an empty in-memory store.
func openUserStore(ctx context.Context, a *app, inMemory bool) (users.BuyerService, users.SellerService, error) {
	if inMemory {
		a.logger.Warn("using in-memory user store, data is lost on exit")
		store := memory.New()
		return store, store, nil
	}

	mc := a.cfg.Mongo
	mongoCfg := mongostore.Config{
		URI:               mc.URI,
		Database:          mc.Database,
		ConnectionTimeout: mc.ConnectionTimeout,
	}
	client, err := mongostore.NewClient(ctx, mongoCfg)
	if err != nil {
		return nil, nil, err
	}
	a.onClose(func(ctx context.Context) error { return mongostore.Disconnect(ctx, client) })
	a.health.Register(health.NewMongoChecker(client))

	store := mongostore.New(mongostore.Database(client, mongoCfg), mongostore.WithLogger(a.logger))
	if err := store.EnsureIndexes(ctx); err != nil {
		return nil, nil, err
	}
	a.logger.Info("connected to mongodb", "database", mongoCfg.Database)
	return store, store, nil
}
