// Package services implements the remote collaborators of the sync core over HTTP.
//
// # API Client
//
// [APIClient] sends JSON requests with a bearer token from an [oauth2.TokenSource] and classifies every
// failure as a [shared.Error]:
//   - 401 / 403 : [shared.KindUnauthorized]
//   - other non-2xx : [shared.KindServer] carrying the status code
//   - transport failure : [shared.KindNetwork]
//   - undecodable body : [shared.KindDecoding]
//
// # Tag Authority
//
// [TagSyncService] pages the remote library with GET /songs/sync?page=&limit= and pushes pending songs
// with PUT /songs/{id}.
//
// # Analyzer
//
// [AnalyzerService] requests AI tags with POST /analyze/song and POST /analyze/batch.
//
// # Session
//
// [TokenSession] keeps the OAuth2 token in a JSON file. The [oauth2.Config] token source refreshes
// expired tokens and the refreshed token is written back. Watch uses fsnotify so a login or logout
// from another process is picked up without a restart.
package services
