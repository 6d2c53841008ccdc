package streaming

import "fmt"

type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Code() string  { return e.code }

var (
	// ErrNotConnected is returned by SendAudio when no connection exists.
	ErrNotConnected error = &codedError{"NOT_CONNECTED", "streaming client is not connected"}
	// ErrQueueClosed is returned by SendAudio once the sender has stopped.
	ErrQueueClosed error = &codedError{"QUEUE_CLOSED", "audio queue is closed"}
)

// ConnectError reports a failed connection attempt. Status is the HTTP status
// of a rejected handshake, or 0 when no response was received.
type ConnectError struct {
	Status int
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("failed to connect to streaming service (HTTP %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("failed to connect to streaming service: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
func (e *ConnectError) Code() string  { return "CONNECT_ERROR" }
