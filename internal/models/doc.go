// Package models defines the core domain models for Blue Ledger.
//
// # Models
//
//   - User: a registered account, also the source of a request Identity
//   - Expense: a priced line owned by one user and optionally shared with friends
//   - Notification: a persisted record of something that happened to a user
//   - Friendship: a pending or accepted link between two users
//   - Group: a named set of users with one owner
//
// # Design Principles
//
// 1. **IDs, not pointers**: relationships are expressed as ID strings
// 2. **Unix seconds**: all timestamps are int64 Unix seconds
// 3. **Secrets stay server-side**: fields such as PasswordHash are never serialized
package models
