// Package memberauth implements member management for the trading-robot
// sales platform: dual-path authentication, session state, and the admin
// member console.
//
// Authentication:
//   - Orchestrator is the entry point for login, registration, OTP
//     verification, password reset, and logout. Every operation returns an
//     Outcome describing success, rejection, or failure with a stable text
//     code the UI can key on.
//   - Directory is the hosted backend (Bun-persisted users, OTP challenges,
//     password resets, JWT issuance). When it is unreachable the orchestrator
//     degrades to FallbackStore, a local mirror that keeps previously seen
//     accounts and the last session usable offline.
//   - Pending registrations park phone, email, and password while the OTP is
//     in flight; the password attaches only after the code verifies, and a
//     failed attach is retried on the next SetPassword rather than rolled
//     back.
//
// Sessions:
//   - SessionContext subscribes to backend auth events and exposes the
//     current SessionUser. It hydrates from the fallback mirror on start so
//     a restart keeps the member signed in, then upgrades the identity once
//     the profile fetch succeeds.
//
// Admin:
//   - AdminService guards the member console behind RoleAdmin and exposes
//     listing, creation, mutation, and deletion plus the dashboard
//     aggregates: CalculateStats, ActivitySeries, and PlanDistribution are
//     pure functions over member snapshots.
//
// Activity sinks:
//   - ActivitySink receives audit events (logins, OTP sends, password
//     changes, admin mutations) best-effort; BunActivitySink persists them
//     for the admin activity feed.
package memberauth
