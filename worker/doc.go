/*
Package worker spawns the backend sidecar and exposes it as a Handle: a writable stdin and an ordered stream of output events.

Each spawned process gets its own Handle. The stream carries one event per stdout line, one per stderr line, and finally a single Terminated event once the process has been reaped and both output streams have been drained. The channel is closed after that.

The worker runs in its own process group. Descendants that keep its output streams open after it exits are killed once a short drain timeout elapses, and Close kills the whole group.

A Handle is not restartable. When the process dies, spawn a new one.

Stdout lines are delivered with backpressure: if nobody reads the stream, the worker eventually blocks on its own stdout writes.
Stderr is diagnostic only, so stderr lines are logged as they arrive and dropped from the stream when its buffer is full.
*/
package worker
