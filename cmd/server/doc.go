// Command server runs the metered chat API.
//
// Authenticated users spend a fixed token quota per chat request; the server
// tracks balances, supports top-ups, and records every exchange.
//
// Main components:
//   - token ledger with atomic debit/credit semantics
//   - chat transaction orchestration with compensating refunds
//   - JWT-based registration and login
package main
