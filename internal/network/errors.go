// Package network implements the data-plane transport between pipeline
// stages placed on different nodes: a manager tracking consumer/producer
// partitions, a gRPC-backed sink/source pair for framed tuple-buffer
// transfer, and an event-only back-channel for control messages.
package network

import "errors"

// ErrChannelUnavailable is returned by Manager.DialWithRetry once its
// retry budget is exhausted without a channel being established.
var ErrChannelUnavailable = errors.New("network: channel unavailable")

// ErrChannelBroken is returned once a previously-established channel's
// underlying stream has failed.
var ErrChannelBroken = errors.New("network: channel broken")

// ErrPartitionAlreadyRegistered is returned when a second producer/consumer
// attempts to register against a partition id already claimed.
var ErrPartitionAlreadyRegistered = errors.New("network: partition already registered")
