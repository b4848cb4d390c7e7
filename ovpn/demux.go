package ovpn

// demuxChild is a single child channel's view onto the demultiplexer: a
// FIFO of packets whose opcode was registered to it.
type demuxChild struct {
	opcodes map[Opcode]bool
	inbox   []sessionPacket
}

func (c *demuxChild) owns(op Opcode) bool {
	return c.opcodes[op]
}

// demux routes incoming session packets to child channels by opcode
// registration, per spec §4.4. Exactly one source (the framer) feeds it;
// any number of children pull from it.
type demux struct {
	src      *framer
	children []*demuxChild
}

func newDemux(src *framer) *demux {
	return &demux{src: src}
}

// register creates a new child owning the given opcode set. It fails if
// any opcode in the set is already claimed by an existing child.
func (d *demux) register(opcodes ...Opcode) (*demuxChild, error) {
	for _, existing := range d.children {
		for _, op := range opcodes {
			if existing.owns(op) {
				return nil, newError(ErrKindProtocol, "opcode %v already registered to another channel", op)
			}
		}
	}
	set := make(map[Opcode]bool, len(opcodes))
	for _, op := range opcodes {
		set[op] = true
	}
	child := &demuxChild{opcodes: set}
	d.children = append(d.children, child)
	return child, nil
}

// pull returns the next packet belonging to child, per caller-visible
// FIFO order: packets stashed from a prior pull-by-another-child are
// served before the demux reads further from the source.
func (d *demux) pull(child *demuxChild) (sessionPacket, bool, error) {
	if len(child.inbox) > 0 {
		pkt := child.inbox[0]
		child.inbox = child.inbox[1:]
		return pkt, true, nil
	}

	for {
		pkt, ok, err := d.src.read()
		if err != nil {
			return sessionPacket{}, false, err
		}
		if !ok {
			return sessionPacket{}, false, nil
		}
		if child.owns(pkt.Opcode) {
			return pkt, true, nil
		}
		if other := d.ownerOf(pkt.Opcode); other != nil {
			other.inbox = append(other.inbox, pkt)
			continue
		}
		// No registered owner: drop silently, matching the "opcode-set
		// disjointness" invariant rather than blocking the puller.
	}
}

func (d *demux) ownerOf(op Opcode) *demuxChild {
	for _, c := range d.children {
		if c.owns(op) {
			return c
		}
	}
	return nil
}
