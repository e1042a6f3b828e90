// Package ratelimit implements the fixed-window counting behind windowguard.
//
// Time is cut into consecutive windows of Period seconds aligned to the Unix
// epoch. Each (scope, window) pair owns one counter in a shared
// counterstore.Store, named scopeKey followed by the window's reset time.
// Every evaluation increments that counter exactly once and schedules it to
// expire shortly after the window ends, so counters never need cleaning up
// and a fresh window always starts from zero.
//
// Evaluation never reads before writing. The post-increment value is the
// request's position in its window, which keeps concurrent evaluations in
// different processes consistent.
package ratelimit
