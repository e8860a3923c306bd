// Package cmd defines the CLI for the knowledge-base crawler.
//
// Architecture overview:
//   - serve: internal/api.Server exposes POST /crawl, GET /tasks and GET /tasks/{task_id} under the configured
//     base path, plus /healthz, /readyz and /metrics. Submissions pass the per-client rate limiter (Redis or
//     in-memory TTL keys) and are handed to the orchestrator, which registers the task and enqueues it.
//   - Dispatcher & queue: tasks flow through a bounded in-memory queue sized by crawler.queue_depth and are
//     fanned out to a fixed worker pool sized by crawler.concurrency.
//   - Task pipeline: a worker launches the spider subprocess (this binary's spider command by default), which
//     writes a per-task CSV link list. The extraction pipeline then fetches each link in order, paced by
//     extraction.link_delay_ms, strips header/footer/navigation chrome with goquery, and posts the outcome of
//     every link to the caller's webhook. Cleaned pages are optionally archived to local disk or GCS, and a
//     task summary is optionally published to Pub/Sub.
//   - spider: colly-based same-host link discovery starting at --start-url, written to --output.
//
// Operational notes:
//   - Task state lives in memory only; a restart forgets every task.
//   - The HTTP server listens on server.port, overridable via PORT, and drains on SIGINT/SIGTERM.
//   - Configuration: optional YAML file (--config), an optional .env file, and CRAWLER_* environment variables
//     such as CRAWLER_REDIS_ADDRESS or CRAWLER_AUTH_TOKEN.
package cmd
