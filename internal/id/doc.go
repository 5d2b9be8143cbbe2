// Package id generates the identifiers used across peek.
//
//   - Record: ULIDs for capture records. They sort lexicographically by
//     creation time, which the persistence layer relies on for cursor
//     pagination (beforeId).
//   - Request: UUID v4 for framework-level request ids.
//   - Prefixed: short random ids with a readable prefix (ws connections,
//     ws messages).
package id
