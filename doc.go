// Package hookflow receives agent protocol messages delivered by webhook,
// routes each one to exactly one registered handler, and lets handlers answer
// the agent service with follow-up protocol actions.
//
// Messages are JSON objects whose "@type" carries an identifier of the form
// <qualifier>;spec/<family>/<version>/<name>. Handlers are registered at one
// of three levels and resolved most specific first:
//
//   - status: a fully qualified type plus the message's "status" value
//   - type: a fully qualified type, any status
//   - family: every message of a family and version
//
// When nothing matches, the default handler runs if one is set; otherwise the
// dispatch fails with ErrNoHandler. Payloads that cannot be parsed, and
// well-formed problem reports, go to the problem-report handler when one is
// registered.
//
// Service hosts the webhook on Config.WebhookAddress and can additionally
// consume an intake topic on any Watermill transport (Kafka, RabbitMQ, NATS,
// AWS SNS/SQS, HTTP or Go channels). In relay mode the webhook only publishes
// to that topic, so several replicas can share the work. Unroutable intake
// messages are forwarded to Config.PoisonQueue; handler failures are retried.
//
// A minimal setup:
//
//	conf, err := hookflow.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	svc := hookflow.NewService(conf, logger, ctx, hookflow.ServiceDependencies{})
//	err = hookflow.RegisterHandler(svc, hookflow.HandlerRegistration{
//		Family:  "connecting",
//		Version: "0.6",
//		Handler: onConnecting,
//	})
//	...
//	err = svc.Start(ctx)
//
// Handlers receive a MessageContext carrying the parsed message, the agent
// context loaded from verity-context.json and a Producer. The protocols
// package builds the outbound messages for the common protocol families.
package hookflow
