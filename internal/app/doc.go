// Package app provides the application composition layer for the report
// fetch service.
//
// # Architecture Role
//
// The app package sits above the domain and service layers and composes
// them into a running application. It is NOT a business logic layer;
// fetch, discovery and scheduling logic belongs in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── account/        # Franchisee credentials and store sets
//	│   ├── endpoint/       # The closed set of upstream report resources
//	│   └── report/         # Fetch requests, results and aggregates
//	├── services/           # Business logic
//	│   ├── registry/       # Account roster loading and snapshots
//	│   ├── discovery/      # Paginated store enumeration per account
//	│   ├── gateway/        # Rate-limited upstream HTTP client
//	│   ├── batch/          # Bounded-concurrency fan-out scheduler
//	│   └── schedule/       # Cron-driven recurring pulls
//	├── storage/            # Storage interfaces and implementations
//	│   ├── interfaces.go   # AccountStore and HistoryStore
//	│   ├── memory.go       # In-memory implementation, default
//	│   └── postgres/       # PostgreSQL batch history, optional
//	├── extension/          # Compiled-in report extensions
//	├── normalize/          # JSON flattening, envelope unwrap, field pick
//	├── httpapi/            # HTTP API handlers and routing
//	├── runtime/            # Process wiring: config, logger, HTTP server
//	├── errlog/             # Operator-facing append-only error file
//	├── metrics/            # Prometheus collectors
//	└── system/             # Service lifecycle management
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing services from internal/app/services/ with their dependencies
//   - Defining the storage interfaces those services depend on
//   - Providing domain models shared across services
//   - Exposing HTTP API endpoints for external access
//   - Snapshotting roster state into extension contexts
//
// # Dependency Direction
//
// The dependency flow is:
//
//	cmd/reportlayer/
//	      │
//	      ▼
//	internal/app/runtime/ (process wiring)
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/domain/ (models)
//	      │
//	      ├──► internal/app/storage/ (persistence)
//	      │
//	      └──► internal/app/extension/ (compiled-in reports)
//
// # Example: Adding a New Endpoint
//
// Upstream report endpoints are a closed table. Adding one:
//
//  1. Add the display name constant and route to internal/app/domain/endpoint/
//  2. Nothing else; discovery, batching, history and the HTTP API key off
//     the table
//
// # Example: Adding a New Extension
//
//  1. Create internal/app/extension/builtin/<name>/ with an init Register
//  2. Blank-import it from cmd/reportlayer/main.go
package app
