package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/glimte/jobber-go/notification"
	"github.com/glimte/jobber-go/topology"
	"github.com/spf13/cobra"
)

func newNotificationCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "notification",
		Short: "Run the notification service consumers",
		Long:  "Consumes the auth and order email queues and sends the matching emails over SMTP.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath, "notification", os.Stdout)
			if err != nil {
				return err
			}
			defer a.close()

			sc := a.cfg.SMTP
			mailer, err := notification.NewSMTPMailer(notification.SMTPConfig{
				Host:     sc.Host,
				Port:     sc.Port,
				Username: sc.Username,
				Password: sc.Password,
				From:     sc.From,
			}, notification.WithSMTPLogger(a.logger))
			if err != nil {
				return err
			}

			a.watchQueues(topology.NotificationRoutes()...)
			consumer := notification.NewEmailConsumer(mailer,
				notification.WithClientURL(a.cfg.Notification.ClientURL),
				notification.WithAppIcon(a.cfg.Notification.AppIcon),
				notification.WithMarkers(a.markers()),
				notification.WithLogger(a.logger),
				notification.WithConsumerOptions(a.consumerOptions()...))

			a.logger.Info("notification service started", "smtp", sc.Host)
			return a.run(ctx,
				func(ctx context.Context) error { return consumer.ConsumeAuthEmailMessages(ctx) },
				func(ctx context.Context) error { return consumer.ConsumeOrderEmailMessages(ctx) },
			)
		},
	}
}
