/*
Package ovpn implements the client side of the OpenVPN 2.6 wire protocol:
session framing, a reliable in-order control channel carrying a TLS
handshake, the optional tls-crypt outer envelope, key derivation and the
data channel's packet encryption.

Package ovpn has no opinion on how bytes reach the peer. Callers supply
any io.ReadWriteCloser (a UDP or TCP connection, typically) and drive the
protocol via the Orchestrator's Connect/Send/Receive/Read/Write methods.
TUN/TAP attachment, route installation and IP/Ethernet parsing of the
tunneled payload are all left to the caller: the orchestrator treats
every application packet as an opaque byte slice.

Usage

	conn, _ := net.Dial("udp", "vpn.example.com:1194")
	orch, _ := ovpn.NewOrchestrator(conn, cfg, log.NewLogfmtLogger(os.Stderr))
	if err := orch.Connect(ctx); err != nil {
		// handle fatal handshake error
	}
	for {
		pkt, err := orch.Read(ctx)
		// route pkt.Bytes to the TUN device, etc.
	}

Protocol versions

Only the OpenVPN 2.6 client protocol is implemented: server-side
operation, compression, epoch data keys and UDP fragmentation are all
out of scope.
*/
package ovpn
