package api

import "errors"

// ErrTooManyFetchedCertificates is a task-scoped error: a peer returned
// more certificates than the request's max_items permitted. The Fetch
// Task that received it ends without a downstream delivery.
var ErrTooManyFetchedCertificates = errors.New("api: peer returned more certificates than requested")

// ErrClosedChannel is a task-scoped error covering both a closed loopback
// send and a dropped acknowledgement channel.
var ErrClosedChannel = errors.New("api: loopback channel closed")

// ErrReconfigureChannelLost is raised when the reconfiguration channel is
// closed out from under the event loop. Per spec this is a deliberate
// fatal condition: losing epoch signals would silently break correctness,
// so the caller should treat this as unrecoverable rather than retry.
var ErrReconfigureChannelLost = errors.New("api: reconfiguration channel closed")
