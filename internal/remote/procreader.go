package remote

import "context"

// ProcReader exposes remote file reads in the shape the resource
// sampler expects, so a sampler can watch a process on another host.
type ProcReader struct {
	exec *Executor
	conn *Connection
}

// NewProcReader wraps an established connection for sampling use
func NewProcReader(exec *Executor, conn *Connection) *ProcReader {
	return &ProcReader{exec: exec, conn: conn}
}

// ReadFile reads one file from the connection's host
func (r *ProcReader) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return r.exec.ReadFile(ctx, r.conn, path)
}
