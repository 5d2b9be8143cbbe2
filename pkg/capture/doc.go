// Package capture records inbound HTTP requests and their responses.
//
// A Store holds in-flight records keyed by record id, a bounded ring buffer
// of finished records, and a Hub of live subscribers. An Interceptor drives
// the store through four lifecycle hooks:
//
//	OnStart       -> Store.Begin
//	OnPreDispatch -> Store.CaptureBody
//	OnPreSend     -> Store.CaptureResponse
//	OnComplete    -> Store.Finish, Store.Broadcast, Persister.Persist
//
// Interceptor.Middleware wires the hooks around any http.Handler.
//
// Hooks for different requests may interleave freely. Every store operation
// is keyed by record id and runs under the store lock, so a request never
// observes another request's partially applied update. Capture failures are
// recorded on Record.Error and never reach the client.
package capture
