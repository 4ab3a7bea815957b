/*
Package broker serializes calls to the backend sidecar over its stdin/stdout.

The protocol is one request line in, one response line out, with no request IDs. That is only safe if a single exchange is in flight at a time,
so every Call holds one exclusive gate for its whole duration: ensure a worker exists, write the request, wait for the first stdout line.
Concurrent callers queue on the gate.

The worker is started lazily by the first Call. If it dies mid-call, or its output stream closes, or a call is canceled while waiting for the response,
the session is torn down and that call fails. The next Call spawns a fresh worker. There is no automatic retry.

Lines the worker writes to stderr are logged and otherwise ignored.
*/
package broker
