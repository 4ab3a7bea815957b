/*
Package shell serves the desktop shell's command bridge to the UI.

The UI invokes commands by name with a JSON object of arguments and gets back a JSON result or an error.
Two transports are offered, both bound to loopback:

  - POST /invoke/:command with the arguments as the request body. The response is {"result": ...} on success,
    or {"error": "...", "kind": "..."} with a non-200 status.
  - GET /invoke upgrades to a WebSocket. Each text message is a frame {"id", "command", "args"} and is answered
    by a frame {"id", "result"} or {"id", "error", "kind"}. Frames are handled concurrently, so responses may
    arrive out of order; match them by id.

backend_call is the only command that reaches the sidecar. All backend calls, from any number of connections,
go through the same broker and are therefore executed one at a time.
*/
package shell
