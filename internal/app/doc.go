// Package app composes the settlement services into a running application.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Pure domain models and policy
//	│   ├── bond/           # Series, lanes, emission and claim policy
//	│   ├── entropy/        # Seed type, sub-seed derivation, bucket hashing
//	│   ├── leaderboard/    # Jackpot rounds and pro-rata payout
//	│   └── sampling/       # Cumulative-weight index for ticketed draws
//	├── services/           # Stateful services built on the domain
//	│   ├── bond/           # Settlement engine, maintenance pass, driver
//	│   ├── leaderboard/    # Bucket-denominator jackpot rounds
//	│   ├── treasury/       # Funds pool, claim-token ledgers, level clock
//	│   └── entropy/        # Local and drand-style seed beacons
//	├── storage/            # Store interfaces and implementations
//	│   ├── memory/         # In-memory implementation for tests
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── httpapi/            # JSON REST handlers and audit trail
//	├── system/             # Service lifecycle management
//	└── metrics/            # Prometheus instrumentation
//
// # Responsibilities
//
// The app package wires services to their dependencies, defaults nil stores
// to the in-memory implementation, and drives the async entropy handshake
// used by leaderboard resolution. Business rules live in the domain and
// service packages; HTTP concerns live in httpapi.
package app
