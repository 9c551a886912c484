// Package config centralizes tunable defaults for the berrydb
// daemon and client.
//
// Every constant here can be overridden through config.yaml; the
// comment on each names the key that overrides it.
package config

import "time"

// =============================================================================
// Listener Defaults
// =============================================================================

const (
	// DefaultListenAddress is where the daemon listens when unconfigured.
	// Config key: server.listen
	DefaultListenAddress = "0.0.0.0:4410"

	// DefaultMaxMessageSize limits wire message size to prevent OOM.
	// 16 MiB fits roughly one million points per insert batch.
	// Config key: server.max_message_size
	DefaultMaxMessageSize = 16 * 1024 * 1024
)

// =============================================================================
// Session Plumbing Defaults
// =============================================================================

const (
	// DefaultAuthTimeoutSec bounds the gap between accept and the auth message.
	// Connections that stay silent past it are dropped.
	// Config key: session.auth_timeout_sec
	DefaultAuthTimeoutSec = 30

	// DefaultSessionCleanupIntervalSec is the sweep period for closed sessions.
	// Config key: session.cleanup_interval_sec
	DefaultSessionCleanupIntervalSec = 60

	// DefaultSessionSendBufferSize sizes the per-session outbound channel.
	// Larger values allow more responses to be queued for slow clients.
	// Config key: session.send_buffer_size
	DefaultSessionSendBufferSize = 1000

	// DefaultSessionSendTimeoutMs is the grace period on a full send buffer.
	// After this timeout, the response is dropped and the session closed.
	// Config key: session.send_timeout_ms
	DefaultSessionSendTimeoutMs = 100
)

// =============================================================================
// Commit Defaults
// =============================================================================

const (
	// DefaultCommitLockTimeout is how long a commit waits for the per-stream
	// gate before failing with a lock timeout. The apply step itself is
	// never timed out.
	// Config key: commit.lock_timeout
	DefaultCommitLockTimeout = 5 * time.Second

	// DefaultApplyWorkers is the number of workers draining the async
	// commit queue. Commits to the same stream are still serialized by the
	// per-stream gate regardless of worker count.
	// Config key: commit.apply_workers
	DefaultApplyWorkers = 8

	// DefaultApplyQueueSize is the async commit queue capacity.
	// When full, async commits block until a slot frees up.
	// Config key: commit.apply_queue_size
	DefaultApplyQueueSize = 4096
)

// =============================================================================
// Drain Defaults
// =============================================================================

const (
	// DefaultDrainTimeoutSec is how long to wait for in-flight commits during
	// shutdown. This follows the Kubernetes convention
	// (terminationGracePeriodSeconds = 30s).
	// Config key: server.drain_timeout_sec
	DefaultDrainTimeoutSec = 30
)

// =============================================================================
// Auth Throttling Defaults
// =============================================================================

const (
	// DefaultAuthRateLimitPerMinute is the max FAILED auth attempts per IP per
	// minute. Only failed attempts are counted; successful authentications
	// reset the failure counter. After reaching this limit, the IP is
	// temporarily blocked from connecting until the time window expires.
	// Config key: auth.rate_limit_per_minute
	DefaultAuthRateLimitPerMinute = 5
)
