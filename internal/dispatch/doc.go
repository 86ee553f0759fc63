// Package dispatch moves request handling off the connection goroutines onto
// a fixed pool of workers.
//
// A Dispatcher owns PoolSize worker goroutines and an unbounded FIFO queue.
// Submit enqueues a Task and returns at once; a worker runs it later.
//
// Admission:
//   - Running: Submit enqueues and reports true
//   - After DrainAndStop: Submit is a silent no-op (no log, no error) and reports false
//   - The admission flag is set once and never cleared
//
// Shutdown:
//   - DrainAndStop sets the flag and closes the queue, then returns
//   - Queued and running tasks still complete; workers exit once the queue is empty
//   - Done/Wait report when the last worker has exited
//   - Concurrent or repeated DrainAndStop calls initiate teardown once
//
// Task failures:
//   - Failed results are logged at ERROR and swallowed
//   - Skipped results are logged at DEBUG
//   - Panics are recovered and logged with the stack
//   - The worker keeps serving the queue in every case
//
// The queue has no capacity limit and there is no backpressure: sustained
// overload grows the queue.
package dispatch
