package certwaiter

import (
	"github.com/narwhal-go/narwhal/primary/api"
	"github.com/narwhal-go/narwhal/primary/rpc"
)

// sharedState is the immutable bundle handed to every Fetch Task: never
// mutated after construction, so it is safe to share across the event
// loop goroutine and however many fetch tasks run over the waiter's
// lifetime without any lock.
type sharedState struct {
	self     api.Authority
	client   rpc.Client
	loopback chan<- api.CertificateLoopbackMessage
}
