// Package scheduler triggers the engine's periodic jobs (scheduled sweep,
// retention cleanup) from cron expressions or fixed intervals. A job still
// running when its next trigger fires is skipped, never queued.
package scheduler
