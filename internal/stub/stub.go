// Package stub sends a single non-recursive DNS query to a named
// nameserver over UDP and returns the parsed reply. It is the only part
// of the resolver that touches a network socket.
package stub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dnsscience/rdnsd/internal/random"
	"github.com/dnsscience/rdnsd/internal/wire"
)

// ErrTransactionIDMismatch indicates a reply whose id didn't match the
// query's, treated as a retryable I/O error rather than a parse failure
// (a conforming off-path spoof attempt looks exactly like this).
var ErrTransactionIDMismatch = errors.New("stub: reply transaction id does not match query")

// DefaultTimeout is the receive deadline applied to every query, per
// spec.md §5's "suggested 2-5s" guidance.
const DefaultTimeout = 3 * time.Second

// dnsPort is the standard port every upstream nameserver is queried on.
const dnsPort = 53

// Querier issues non-recursive queries against upstream nameservers.
type Querier struct {
	timeout time.Duration
	ports   *random.PortPool
	// serverPort is the remote port to query, overridable by tests; real
	// callers always get the zero value and fall back to dnsPort.
	serverPort int
}

// New returns a Querier with the given receive timeout. If ports is nil,
// the query binds to an OS-assigned ephemeral port instead of a
// pool-managed one.
func New(timeout time.Duration, ports *random.PortPool) *Querier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Querier{timeout: timeout, ports: ports}
}

// Lookup sends one query for (name, qtype) to server:53 and returns the
// parsed response. recursion_desired is set purely to accommodate a
// server that happens to recurse on its own; this resolver never relies
// on it and always follows the reply itself.
func (q *Querier) Lookup(ctx context.Context, name string, qtype wire.QueryType, server net.IP) (*wire.Message, error) {
	conn, localPort, err := q.dial(server)
	if err != nil {
		return nil, fmt.Errorf("stub: dial %s: %w", server, err)
	}
	defer conn.Close()
	if q.ports != nil && localPort != 0 {
		defer q.ports.Release(localPort)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(q.timeout))
	}

	txID := random.TransactionID()

	req := wire.NewMessage()
	req.Header.ID = txID
	req.Header.RecursionDesired = true
	req.Questions = []wire.Question{{Name: name, QType: qtype}}

	reqBuf := wire.NewBuffer()
	if err := req.Write(reqBuf); err != nil {
		return nil, fmt.Errorf("stub: encoding query: %w", err)
	}

	if _, err := conn.Write(reqBuf.Bytes()[:reqBuf.Position()]); err != nil {
		return nil, fmt.Errorf("stub: sending query: %w", err)
	}

	resBuf := wire.NewBuffer()
	n, err := conn.Read(resBuf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("stub: receiving reply: %w", err)
	}
	_ = n // the full 512-byte buffer is parsed; trailing zero bytes are inert

	resp, err := wire.FromBuffer(resBuf)
	if err != nil {
		return nil, fmt.Errorf("stub: parsing reply: %w", err)
	}

	if resp.Header.ID != txID {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrTransactionIDMismatch, txID, resp.Header.ID)
	}

	return resp, nil
}

// dial opens an ephemeral UDP socket connected to server:53, using the
// port pool for the local address if one was configured.
func (q *Querier) dial(server net.IP) (*net.UDPConn, uint16, error) {
	port := dnsPort
	if q.serverPort != 0 {
		port = q.serverPort
	}
	remote := &net.UDPAddr{IP: server, Port: port}

	if q.ports == nil {
		conn, err := net.DialUDP("udp", nil, remote)
		return conn, 0, err
	}

	port, err := q.ports.Allocate()
	if err != nil {
		return nil, 0, fmt.Errorf("allocating source port: %w", err)
	}

	local := &net.UDPAddr{Port: int(port)}
	conn, err := net.DialUDP("udp", local, remote)
	if err != nil {
		q.ports.Release(port)
		return nil, 0, err
	}
	return conn, port, nil
}
