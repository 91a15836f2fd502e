package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/glimte/jobber-go/internal/rabbitmq"
	"github.com/glimte/jobber-go/messaging"
	"github.com/glimte/jobber-go/topology"
	"github.com/spf13/cobra"
)

var errInvalidPayload = errors.New("payload is not a JSON object")

func newPublishCmd(configPath *string) *cobra.Command {
	var (
		exchange   string
		routingKey string
		kind       string
		payload    string
		messageID  string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one JSON message",
		Long: `Publishes a single persistent JSON message and waits for the broker confirm.
The exchange kind defaults to the kind of the known jobber exchange, or direct.
Use --payload - to read the payload from stdin.`,
		Example: `  jobber publish --exchange jobber-buyer-update --routing-key user-buyer \
    --payload '{"type":"auth","username":"Manny","email":"manny@test.com"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			route, err := publishRoute(exchange, routingKey, kind)
			if err != nil {
				return err
			}

			body, err := readPayload(payload, cmd.InOrStdin())
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), *configPath, "publish", cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			var options []messaging.PublishOption
			if messageID != "" {
				options = append(options, messaging.WithMessageID(messageID))
			}
			return a.newProducer().Publish(cmd.Context(), route, body, "Message published.", options...)
		},
	}

	cmd.Flags().StringVarP(&exchange, "exchange", "e", "", "Exchange name")
	cmd.Flags().StringVarP(&routingKey, "routing-key", "k", "", "Routing key")
	cmd.Flags().StringVar(&kind, "kind", "", "Exchange kind: direct or fanout")
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON payload, or - for stdin")
	cmd.Flags().StringVar(&messageID, "message-id", "", "Message id consumers use as idempotency key")
	_ = cmd.MarkFlagRequired("exchange")
	_ = cmd.MarkFlagRequired("payload")

	return cmd
}

// publishRoute builds the target route, taking the kind of a known jobber
// exchange when kind is empty.
func publishRoute(exchange, routingKey, kind string) (rabbitmq.Route, error) {
	if kind == "" {
		kind = rabbitmq.KindDirect
		if known, ok := topology.Lookup(exchange); ok {
			kind = known.Kind
		}
	}

	route := rabbitmq.Route{Exchange: exchange, Kind: kind, RoutingKey: routingKey}
	if err := route.Validate(); err != nil {
		return rabbitmq.Route{}, err
	}
	return route, nil
}

func readPayload(payload string, stdin io.Reader) ([]byte, error) {
	body := []byte(payload)
	if payload == "-" {
		var err error
		if body, err = io.ReadAll(stdin); err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
	}

	var object map[string]json.RawMessage
	if err := json.Unmarshal(body, &object); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if object == nil {
		return nil, errInvalidPayload
	}
	return body, nil
}
