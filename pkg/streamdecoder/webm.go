package streamdecoder

// Minimal EBML/WebM walker, just deep enough to pull Opus payloads out of
// a MediaRecorder-produced byte stream: find the audio TrackEntry, then
// collect every SimpleBlock (or BlockGroup/Block) belonging to that track
// number, in file order.
//
// MediaRecorder writes Segment and Cluster with unknown size (the "all
// VINT_DATA bits set" marker) since it never knows in advance how much
// more it will emit. An unknown-size master element has no end marker;
// the only way to know it's over is noticing the next ID read doesn't
// belong to its set of valid children. childrenOf encodes exactly that.

const (
	idEBML        = 0x1A45DFA3
	idSegment     = 0x18538067
	idTracks      = 0x1654AE6B
	idTrackEntry  = 0xAE
	idTrackNumber = 0xD7
	idCodecID     = 0x86
	idCluster     = 0x1F43B675
	idSimpleBlock = 0xA3
	idBlockGroup  = 0xA0
	idBlock       = 0xA1
)

// childrenOf lists the element IDs that may legally appear as a direct
// child of id. Anything else ends an unknown-size id.
func childrenOf(id uint64) map[uint64]bool {
	switch id {
	case idSegment:
		return map[uint64]bool{idTracks: true, idCluster: true}
	case idTracks:
		return map[uint64]bool{idTrackEntry: true}
	case idTrackEntry:
		return map[uint64]bool{idTrackNumber: true, idCodecID: true}
	case idCluster:
		return map[uint64]bool{idSimpleBlock: true, idBlockGroup: true}
	case idBlockGroup:
		return map[uint64]bool{idBlock: true}
	default:
		return nil
	}
}

// isMaster reports whether id is one of the container elements this
// walker knows how to recurse into. The EBML header element is also a
// master in the spec, but its contents (DocType, version numbers) carry
// nothing this decoder needs, so it's deliberately left out here and
// falls through to the generic skip-by-size path instead.
func isMaster(id uint64) bool {
	switch id {
	case idSegment, idTracks, idTrackEntry, idCluster, idBlockGroup:
		return true
	}
	return false
}

// readVint reads an EBML variable-length integer starting at buf[off]. It
// returns the integer value with its length-marker bits stripped, the
// number of bytes consumed, whether every data bit is 1 (the "unknown
// size" marker), and whether there was enough buffer to read it.
func readVint(buf []byte, off int) (value uint64, width int, unknown bool, ok bool) {
	if off >= len(buf) {
		return 0, 0, false, false
	}
	first := buf[off]
	width = 1
	mask := byte(0x80)
	for mask != 0 && first&mask == 0 {
		mask >>= 1
		width++
	}
	if mask == 0 || off+width > len(buf) {
		return 0, 0, false, false
	}
	value = uint64(first &^ mask)
	allOnes := value == uint64(mask-1)
	for i := 1; i < width; i++ {
		value = value<<8 | uint64(buf[off+i])
		allOnes = allOnes && buf[off+i] == 0xFF
	}
	return value, width, allOnes, true
}

// readID reads an EBML element ID (the ID keeps its length-marker bits,
// unlike a size vint).
func readID(buf []byte, off int) (id uint64, width int, ok bool) {
	if off >= len(buf) {
		return 0, 0, false
	}
	first := buf[off]
	width = 1
	mask := byte(0x80)
	for mask != 0 && first&mask == 0 {
		mask >>= 1
		width++
	}
	if mask == 0 || off+width > len(buf) {
		return 0, 0, false
	}
	id = 0
	for i := 0; i < width; i++ {
		id = id<<8 | uint64(buf[off+i])
	}
	return id, width, true
}

// opusTrack is the result of walking the Tracks element: which track
// number carries the A_OPUS codec.
type opusTrack struct {
	number uint64
	found  bool
}

// extractOpusPackets walks buf from the start of the buffer and returns
// every Opus frame payload found, in order. It tolerates a truncated
// trailing element (the usual case: the browser's last chunk cuts off
// mid-Cluster) by simply stopping there instead of erroring.
func extractOpusPackets(buf []byte) [][]byte {
	var packets [][]byte
	var track opusTrack
	walkChildren(buf, 0, len(buf), idEBML /*unused root marker*/, &track, &packets, true)
	return packets
}

// walkChildren parses elements in buf[start:end] as children of parentID.
// root=true means start/end is the whole top-level buffer, where Segment
// (and anything before it, like the EBML header) lives.
func walkChildren(buf []byte, start, end int, parentID uint64, track *opusTrack, packets *[][]byte, root bool) int {
	allowed := childrenOf(parentID)
	pos := start
	for pos < end {
		id, idw, ok := readID(buf, pos)
		if !ok {
			break
		}
		if !root {
			if allowed == nil || !allowed[id] {
				// Not a valid child: this unknown-size element ends here.
				return pos
			}
		}
		sizeOff := pos + idw
		size, sw, unknown, ok := readVint(buf, sizeOff)
		if !ok {
			break
		}
		bodyStart := sizeOff + sw

		switch id {
		case idTrackNumber:
			if bodyStart+int(size) > end {
				return pos
			}
			track.number = beUint(buf[bodyStart : bodyStart+int(size)])
			pos = bodyStart + int(size)
			continue
		case idCodecID:
			if bodyStart+int(size) > end {
				return pos
			}
			if string(buf[bodyStart:bodyStart+int(size)]) == "A_OPUS" {
				track.found = true
			}
			pos = bodyStart + int(size)
			continue
		case idSimpleBlock, idBlock:
			if unknown || bodyStart+int(size) > end {
				return pos
			}
			extractBlockPayload(buf[bodyStart:bodyStart+int(size)], track, packets)
			pos = bodyStart + int(size)
			continue
		}

		if isMaster(id) {
			var bodyEnd int
			if unknown {
				bodyEnd = end
			} else {
				bodyEnd = bodyStart + int(size)
				if bodyEnd > end {
					return pos
				}
			}
			next := walkChildren(buf, bodyStart, bodyEnd, id, track, packets, false)
			pos = next
			continue
		}

		// Unknown leaf element: skip it if we know its size, otherwise
		// stop (we can't safely guess where it ends).
		if unknown {
			return pos
		}
		if bodyStart+int(size) > end {
			return pos
		}
		pos = bodyStart + int(size)
	}
	return pos
}

// extractBlockPayload parses a (Simple)Block body: track number vint,
// 2-byte signed timecode, 1 flags byte, then (for our purposes) a single
// unlaced frame filling the rest of the block. MediaRecorder never uses
// lacing for an Opus track, so lacing flags are ignored.
func extractBlockPayload(body []byte, track *opusTrack, packets *[][]byte) {
	num, w, _, ok := readVint(body, 0)
	if !ok || len(body) < w+3 {
		return
	}
	if track.found && num != track.number {
		return
	}
	frame := body[w+3:]
	if len(frame) == 0 {
		return
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	*packets = append(*packets, cp)
}

func beUint(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
