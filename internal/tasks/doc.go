// Package tasks coordinates the long-running work of the sync core.
//
// [SyncEngine] reconciles the local library with the remote tag authority: a paginated pull
// hydrates songs that have no pending local edits, and a push uploads pending songs, marking
// them synced only when their tags did not change during the round trip. A transition of the
// [Network] observer to connected runs pull then push in the background.
//
// [AnalysisPipeline] sends songs without system tags to the [Analyzer] in sequential chunks
// of [ChunkSize], paced by a rate limiter, and saves the results as synced.
//
// Both report progress through an optional [ProgressUpdate] channel using non-blocking sends.
package tasks
