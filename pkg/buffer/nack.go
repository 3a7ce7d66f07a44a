// nackQueue tracks missing sequence numbers for one RtpStreamRecv and turns them into
// RFC 4585 NACK pairs, bounded both by time (headSN-2 window) and by count (maxNackCache).
// Each hole is re-requested up to maxNackTimes before the queue gives up on it and instead
// signals a keyframe request (askKF), since a lost packet that old is unlikely to still be
// retransmittable.
package buffer

import (
	"sort"

	"github.com/pion/rtcp"
)

const maxNackTimes = 3   // max number of times a packet will be NACKed
const maxNackCache = 100 // max NACK sn the worker will keep reference to

// nack records one missing extended sequence number and how many times it's been asked for.
type nack struct {
	sn     uint32
	nacked uint8
}

// nackQueue keeps nacks sorted by sn so insertion and removal find their position in
// O(log n) via sort.Search, and run compression is a single in-order pass.
type nackQueue struct {
	nacks []nack
	kfSN  uint32
}

func newNACKQueue() *nackQueue {
	return &nackQueue{
		nacks: make([]nack, 0, maxNackCache+1),
	}
}

// remove drops extSN from the loss list once the packet has actually arrived.
func (n *nackQueue) remove(extSN uint32) {
	i := sort.Search(len(n.nacks), func(i int) bool { return n.nacks[i].sn >= extSN })
	if i >= len(n.nacks) || n.nacks[i].sn != extSN {
		return
	}
	copy(n.nacks[i:], n.nacks[i+1:])
	n.nacks = n.nacks[:len(n.nacks)-1]
}

func (n *nackQueue) push(extSN uint32) {
	i := sort.Search(len(n.nacks), func(i int) bool { return n.nacks[i].sn >= extSN })
	if i < len(n.nacks) && n.nacks[i].sn == extSN {
		return
	}

	nck := nack{
		sn:     extSN,
		nacked: 0,
	}
	if i == len(n.nacks) {
		n.nacks = append(n.nacks, nck)
	} else {
		n.nacks = append(n.nacks[:i+1], n.nacks[i:]...)
		n.nacks[i] = nck
	}

	if len(n.nacks) > maxNackCache {
		copy(n.nacks, n.nacks[1:])
		n.nacks = n.nacks[:len(n.nacks)-1]
	}
}

func (n *nackQueue) pairs(headSN uint32) ([]rtcp.NackPair, bool) {
	if len(n.nacks) == 0 {
		return nil, false
	}
	i := 0
	askKF := false
	var np rtcp.NackPair
	var nps []rtcp.NackPair
	for _, nck := range n.nacks {
		if nck.nacked >= maxNackTimes {
			if nck.sn > n.kfSN {
				n.kfSN = nck.sn
				askKF = true
			}
			continue
		}
		if nck.sn >= headSN-2 {
			n.nacks[i] = nck
			i++
			continue
		}
		n.nacks[i] = nack{
			sn:     nck.sn,
			nacked: nck.nacked + 1,
		}
		i++
		if np.PacketID == 0 || uint16(nck.sn) > np.PacketID+16 {
			if np.PacketID != 0 {
				nps = append(nps, np)
			}
			np.PacketID = uint16(nck.sn)
			np.LostPackets = 0
			continue
		}
		np.LostPackets |= 1 << (uint16(nck.sn) - np.PacketID - 1)
	}
	if np.PacketID != 0 {
		nps = append(nps, np)
	}
	n.nacks = n.nacks[:i]
	return nps, askKF
}
