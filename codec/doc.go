/*
Package codec encodes requests for the sidecar worker and decodes its replies.

The wire format is newline-delimited text in both directions: one request line in, one reply line out.
The worker wraps every reply in an envelope:

	{"ok": true, "result": <any JSON value>}
	{"ok": false, "error": "<message>"}

The broker never looks inside a line. This package is only used by callers that want typed requests and results.
*/
package codec
