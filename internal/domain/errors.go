package domain

import "errors"

var (
	// ErrInvalidShardIndex is returned when a shard index is outside [0, shardCount)
	ErrInvalidShardIndex = errors.New("invalid shard index")
	// ErrInvalidArgument is returned for bad configuration such as a retry bound below 1
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrProvisionTimeout is returned when a worker does not become ready in time
	ErrProvisionTimeout = errors.New("worker provisioning timed out")
	// ErrDeleteTimeout is returned when a deleted resource is still visible after the poll cap
	ErrDeleteTimeout = errors.New("timed out waiting for deletion")
	// ErrRetryExhausted is matched by errors returned once every retry attempt failed
	ErrRetryExhausted = errors.New("retry attempts exhausted")
	// ErrCollectionFailure marks a non-fatal artifact download problem
	ErrCollectionFailure = errors.New("artifact collection failed")
	// ErrFatalOrchestration aborts the whole run
	ErrFatalOrchestration = errors.New("fatal orchestration failure")
)
