package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/glimte/jobber-go/health"
	"github.com/glimte/jobber-go/internal/config"
	"github.com/glimte/jobber-go/internal/rabbitmq"
	"github.com/glimte/jobber-go/internal/store/mongostore"
	"github.com/glimte/jobber-go/topology"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var errUnhealthy = errors.New("unhealthy")

func newHealthCmd(configPath *string) *cobra.Command {
	var (
		timeout   time.Duration
		skipMongo bool
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the broker, database and marker store",
		Long:  "Runs every health check once, prints the report as JSON and exits non-zero when a dependency is unhealthy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			registry := health.NewRegistry()
			registry.SetMetadata("version", version)

			conn := rabbitmq.NewConnectionManager(cfg.RabbitMQ.URL,
				rabbitmq.WithLogger(logger),
				rabbitmq.WithMaxRetries(0),
				rabbitmq.WithDialTimeout(timeout))
			if err := conn.Connect(ctx); err != nil {
				registry.Register(failed("rabbitmq", "Failed to connect", err))
			} else {
				defer conn.Close()
				queues := make([]string, 0)
				for _, route := range append(topology.NotificationRoutes(), topology.UsersRoutes()...) {
					queues = append(queues, route.Queue)
				}
				registry.Register(health.NewRabbitMQChecker(conn, queues...))
			}

			if !skipMongo {
				client, err := mongostore.NewClient(ctx, mongostore.Config{
					URI:               cfg.Mongo.URI,
					Database:          cfg.Mongo.Database,
					ConnectionTimeout: timeout,
				})
				if err != nil {
					registry.Register(failed("mongodb", "Failed to connect", err))
				} else {
					defer mongostore.Disconnect(context.Background(), client)
					registry.Register(health.NewMongoChecker(client))
				}
			}

			if cfg.Redis.Addr != "" {
				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				defer client.Close()
				registry.Register(health.NewRedisChecker(client))
			}

			return printReport(cmd.OutOrStdout(), registry.Check(ctx))
		},
	}

	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Overall time allowed for the checks")
	cmd.Flags().BoolVar(&skipMongo, "skip-mongo", false, "Skip the MongoDB check, e.g. for the notification service")

	return cmd
}

func failed(name, message string, err error) health.Checker {
	return health.NewComponentChecker(name, func(ctx context.Context) (health.Status, string, map[string]any, error) {
		return health.StatusUnhealthy, message, nil, err
	})
}

func printReport(w io.Writer, report health.Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return err
	}
	if report.Status == health.StatusUnhealthy {
		return fmt.Errorf("%w: see report", errUnhealthy)
	}
	return nil
}
