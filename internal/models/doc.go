// Package models defines the domain entities of the VibeTag library and the shapes exchanged with remote services.
//
// The package contains two categories of types:
//
// 1. Library entities, persisted by the local store
//   - [Song] : a track in the local library with its tag set and [SyncStatus]
//   - [Tag] : a named label shared across songs, either AI-derived (system) or user-created
//
// 2. Data Transfer Objects: shapes exchanged with the tag authority and the analyzer
//   - [RemoteSong], [RemoteTag] : a page entry returned by the library sync endpoint
//   - [SongUpdate] : the payload pushed for a pending song
//   - [TagInput], [AnalysisResult] : analyzer output
//
// Tags are identified by name. [NormalizeTagName] is the single matching rule used everywhere.
package models
