package server

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// brokerReadyTimeout bounds how long serve mode waits for the embedded
// broker to accept connections.
const brokerReadyTimeout = 5 * time.Second

// StartEmbeddedBroker runs an in-process NATS server on a random localhost
// port. Serve mode falls back to it when no external broker is configured,
// so a bare `flowd serve` still streams events. The caller shuts it down.
func StartEmbeddedBroker() (*natsserver.Server, error) {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded broker: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(brokerReadyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded broker not ready after %s", brokerReadyTimeout)
	}
	return ns, nil
}
