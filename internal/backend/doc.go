// Package backend defines the generation strategy each provider backend
// implements (submit, poll, result extraction, cost) and the registry that
// selects a strategy from a job's model tag. Implementations live in the
// runway and sora subpackages.
package backend
