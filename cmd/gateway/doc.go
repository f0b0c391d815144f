/*
Package main provides the gateway's server program entrypoint.

# Overview

cmd/gateway is the executable entrypoint for the multi-tenant OpenRouter
reverse proxy. It provides the public proxy HTTP API, an administrative
JSON API, health checks, and a version query, all driven by a YAML
config file with environment variable overrides, structured logging
(zap), Prometheus metrics, and config hot-reload of the rotation
strategy.

# Core types

  - Server      — wires the State Store, Vault, Credential Registry,
    Circuit Breaker Registry, Rotation Engine, Proxy Engine, and Client
    Auth Gate together, and manages the HTTP/metrics listeners and
    graceful shutdown.
  - Middleware   — HTTP middleware signature func(http.Handler) http.Handler

# Capabilities

  - Subcommands: serve (start the server), version, health
  - Middleware chain: Recovery, RequestID, ClientIP, SecurityHeaders,
    MetricsMiddleware, RequestLogger, Client Auth Gate; the admin API adds
    APIKeyAuth (static token) and RateLimiter (IP-based)
  - Config hot-reload: the rotation strategy swaps without restart;
    breaker settings of running breakers are not changed
  - Metrics server: separate port exposing /metrics (Prometheus)
  - Graceful shutdown: signal → stop hot-reload → stop rotation sweep →
    close HTTP → close metrics → close store
  - Build injection: Version, BuildTime, GitCommit via ldflags
*/
package main
