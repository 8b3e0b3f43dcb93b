// Package octoflux implements a resilient retrieval and analysis pipeline
// for smart-meter energy data.
//
// # Architecture
//
// The service is structured into several key packages:
//   - octopus: retrying transport and typed client for the remote energy API
//   - ratelimit: per-credential cooldown gate and global request ceiling
//   - cache: TTL memoization of remote query results
//   - series: timezone-correct normalization with explicit gap handling
//   - cost: tariff-aware cost calculation
//   - chart: declarative chart assembly for an external renderer
//   - pipeline: the fetch-and-analyze entry point composing the stages
//   - credstore: Postgres-backed credential storage for the command layer
//   - server: HTTP surface, health and Prometheus metrics
//
// Key Features
//
//   - Resilience:
//     Transient remote faults are retried with exponential backoff and
//     jitter under a hard elapsed-time ceiling; permanent faults propagate
//     immediately as typed errors.
//
//   - Correctness:
//     Series are normalized in UTC and presented in the account's local
//     timezone, so daylight-saving days with 23 or 25 hours survive intact.
//     Costs accumulate in ascending timestamp order for reproducible totals.
//
//   - Performance:
//     Query results are memoized per account, fuel, period and day, so
//     repeated requests within the cache TTL never touch the remote
//     service.
//
// For more information about specific packages, see their respective
// documentation.
package octoflux
