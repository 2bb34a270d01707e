// Package engine drives generation jobs through their lifecycle. Create
// records a pending job; Start runs its workflow in a supervised goroutine
// that uploads the source image, submits the generation task, polls the
// provider until the task settles, downloads the result and records the
// terminal state. Every persisted change is also published to an
// EventBroker for live subscribers.
package engine
