// Package server runs the local HTTP listener used by `vibetag auth login` and `vibetag watch`.
//
// [BasicRouter] registers method-qualified patterns on an [http.ServeMux] behind a
// [Middleware] stack ([Logging], [Recover]). Handlers that own several paths implement
// [Handler].
//
// Login: [OAuthHandler] answers the authorization redirect on /callback, checks the state
// token, exchanges the code through an [Exchanger] and reports exactly one [OAuthResult].
//
// Watch: [StatusHandler] serves /health and the engine snapshot on /status, and
// [SyncTrigger] accepts POST /sync to start a cycle in the background.
package server
