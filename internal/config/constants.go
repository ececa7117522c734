package config

import "time"

// Order lifecycle
const (
	SatoshisPerBTC = 100_000_000

	// DustThresholdSats mirrors Bitcoin Core's default dust relay fee
	// floor for a P2WSH output.
	DustThresholdSats = 294
)

// Multisig
const (
	MultisigM = 2 // required signatures
	MultisigN = 3 // total cosigners (buyer, seller, escrow)
)

// Server
const (
	ServerReadTimeout  = 30 * time.Second
	ServerWriteTimeout = 60 * time.Second
	ServerIdleTimeout  = 120 * time.Second
	ServerMaxHeaderBytes = 1 << 20
	ShutdownTimeout    = 10 * time.Second
)

// Wallet RPC
const (
	WalletRPCTimeout           = 30 * time.Second
	CircuitBreakerThreshold    = 5
	CircuitBreakerCooldown     = 30 * time.Second
	CircuitBreakerHalfOpenMax  = 1
	CircuitClosed              = "closed"
	CircuitOpen                = "open"
	CircuitHalfOpen            = "half_open"
)

// Webhook dispatcher
const (
	WebhookQueueBuffer   = 256
	WebhookRequestTimeout = 10 * time.Second
	WebhookBackoffCap     = 5 * time.Minute
)

// Deadline worker
const (
	DeadlineSweepMinInterval = 30 * time.Second
)

// Logging
const (
	LogDir         = "./logs"
	LogFilePattern = "escrowd-%s-%s.log" // date (YYYY-MM-DD), level
	LogMaxAgeDays  = 30
)

// Database
const (
	DBWALMode     = true
	DBBusyTimeout = 5000 // milliseconds
)
