/*
Package runtime wires the hookflow dispatch pipeline into a running service.

# Architecture Overview

Every inbound agent message, whether it arrives on the webhook or from a
broker, is handed to one dispatcher. The dispatcher parses the envelope,
resolves exactly one handler from the registry and runs it under a deadline.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - the handler registry and dispatcher
  - the agent context and outbound producer handed to handlers
  - the broker transport and Watermill router used for intake
  - HTTP servers for the webhook, metrics and WebUI

## Webhook (webhook.go)

POST on Config.WebhookPath. In dispatch mode the response is "Success" or the
dispatch error (400 for unparseable payloads, 500 otherwise). In relay mode
the body is published to Config.IntakeTopic and answered "Accepted".

## Broker intake (intake.go, middleware.go)

When Config.PubSubSystem is set, the router consumes Config.IntakeTopic.
Unparseable and unroutable payloads go to Config.PoisonQueue; handler
failures and timeouts are retried. The intake middleware chain is:
  - CorrelationID
  - LogMessages
  - Tracer
  - Metrics
  - Retry
  - PoisonQueue
  - Recoverer

## Registration (registration.go)

Service-level helpers over the registration package for raw, JSON and
protobuf handlers, plus module installation.

## WebUI (webui.go)

Read-only JSON API listing registered handlers with their statistics and the
runtime state of the process.

# Sub-packages

  - agentctx/: Agent context file and per-agent session state
  - config/: Service configuration loaded from the environment
  - dispatcher/: Single-handler dispatch with timeout, hooks and metrics
  - envelope/: Message envelope and type identifier parsing
  - errors/: Sentinel errors and error types
  - handlers/: Handler signature, message context and typed handlers
  - ids/: ULID generation for dispatch and message IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Dispatch metadata keys
  - outbound/: Producers for messages sent back to the agent service
  - registration/: Registration builder and modules
  - registry/: Handler registry and per-handler statistics
  - transport/: Transport factory over the transport registry

# Usage Example

	cfg, err := hookflow.LoadConfig()
	if err != nil {
		return err
	}

	svc := hookflow.NewService(cfg, logger, ctx, hookflow.ServiceDependencies{})

	hookflow.RegisterHandler(svc, hookflow.HandlerRegistration{
		Family:  "connecting",
		Version: "0.6",
		Handler: handleConnecting,
	})

	svc.Start(ctx)
*/
package runtime
