package zstack

import (
	"encoding/binary"
	"fmt"

	"zigbee-go-bulb/internal/zcl"
)

// Frame is one incoming ZCL request addressed to a local endpoint. Global
// frames carry foundation commands (read/write attributes); the others are
// cluster-specific commands.
type Frame struct {
	Endpoint uint8
	Cluster  uint16
	Global   bool
	Command  uint8
	Payload  []byte
}

// Response is the stack's answer to a Frame. Payload holds the response
// command body for reads, writes and queries; for plain commands only
// Status is meaningful, as in a default response.
type Response struct {
	Status  zcl.Status
	Payload []byte
}

// WriteRecord is one attribute of a WriteAttributes request.
type WriteRecord struct {
	Attribute uint16
	Type      uint8
	Value     interface{}
}

// WriteStatus is one failed record of a WriteAttributes response.
type WriteStatus struct {
	Status    zcl.Status
	Attribute uint16
}

// ReadRecord is one record of a ReadAttributes response.
type ReadRecord struct {
	Attribute uint16
	Status    zcl.Status
	Type      uint8
	Value     interface{}
}

func malformed(format string, args ...interface{}) error {
	return zcl.Errorf(zcl.StatusMalformedCommand, format, args...)
}

// ReadAttributesFrame builds a ReadAttributes request.
func ReadAttributesFrame(ep uint8, cluster uint16, attrIDs ...uint16) Frame {
	payload := make([]byte, 0, 2*len(attrIDs))
	for _, id := range attrIDs {
		payload = binary.LittleEndian.AppendUint16(payload, id)
	}
	return Frame{Endpoint: ep, Cluster: cluster, Global: true, Command: zcl.FoundationReadAttributes, Payload: payload}
}

// WriteAttributesFrame builds a WriteAttributes request.
func WriteAttributesFrame(ep uint8, cluster uint16, records ...WriteRecord) (Frame, error) {
	var payload []byte
	for _, r := range records {
		enc, err := zcl.EncodeValue(r.Type, r.Value)
		if err != nil {
			return Frame{}, fmt.Errorf("encode attribute 0x%04X: %w", r.Attribute, err)
		}
		payload = binary.LittleEndian.AppendUint16(payload, r.Attribute)
		payload = append(payload, r.Type)
		payload = append(payload, enc...)
	}
	return Frame{Endpoint: ep, Cluster: cluster, Global: true, Command: zcl.FoundationWriteAttributes, Payload: payload}, nil
}

// CommandFrame builds a cluster-specific command.
func CommandFrame(ep uint8, cluster uint16, command uint8, payload ...byte) Frame {
	return Frame{Endpoint: ep, Cluster: cluster, Command: command, Payload: payload}
}

func parseReadRequest(p []byte) ([]uint16, error) {
	if len(p) == 0 || len(p)%2 != 0 {
		return nil, malformed("read request of %d bytes", len(p))
	}
	ids := make([]uint16, 0, len(p)/2)
	for ; len(p) >= 2; p = p[2:] {
		ids = append(ids, binary.LittleEndian.Uint16(p))
	}
	return ids, nil
}

func parseWriteRecords(p []byte) ([]WriteRecord, error) {
	var recs []WriteRecord
	for len(p) > 0 {
		if len(p) < 3 {
			return nil, malformed("truncated write record")
		}
		r := WriteRecord{Attribute: binary.LittleEndian.Uint16(p), Type: p[2]}
		v, n, err := zcl.DecodeValue(r.Type, p[3:])
		if err != nil {
			// the value length is unknown, nothing after it can be parsed
			return nil, malformed("attribute 0x%04X: %v", r.Attribute, err)
		}
		r.Value = v
		recs = append(recs, r)
		p = p[3+n:]
	}
	if len(recs) == 0 {
		return nil, malformed("empty write request")
	}
	return recs, nil
}

func encodeReadResponse(records []ReadRecord) ([]byte, error) {
	var out []byte
	for _, r := range records {
		out = binary.LittleEndian.AppendUint16(out, r.Attribute)
		out = append(out, uint8(r.Status))
		if r.Status != zcl.StatusSuccess {
			continue
		}
		enc, err := zcl.EncodeValue(r.Type, r.Value)
		if err != nil {
			return nil, fmt.Errorf("encode attribute 0x%04X: %w", r.Attribute, err)
		}
		out = append(out, r.Type)
		out = append(out, enc...)
	}
	return out, nil
}

// ParseReadResponse decodes the records of a ReadAttributes response.
func ParseReadResponse(data []byte) ([]ReadRecord, error) {
	var results []ReadRecord
	for len(data) > 0 {
		if len(data) < 3 {
			return results, malformed("truncated read record")
		}
		r := ReadRecord{
			Attribute: binary.LittleEndian.Uint16(data[0:2]),
			Status:    zcl.Status(data[2]),
		}
		data = data[3:]
		if r.Status != zcl.StatusSuccess {
			results = append(results, r)
			continue
		}
		if len(data) < 1 {
			return results, malformed("attribute 0x%04X: missing type", r.Attribute)
		}
		r.Type = data[0]
		v, n, err := zcl.DecodeValue(r.Type, data[1:])
		if err != nil {
			// Unknown size: return what we have rather than guessing.
			return results, malformed("attribute 0x%04X: %v", r.Attribute, err)
		}
		r.Value = v
		data = data[1+n:]
		results = append(results, r)
	}
	return results, nil
}

// encodeWriteResponse follows the ZCL rule: a lone SUCCESS byte when every
// record was written, otherwise one status/attribute pair per failure.
func encodeWriteResponse(failed []WriteStatus) []byte {
	if len(failed) == 0 {
		return []byte{uint8(zcl.StatusSuccess)}
	}
	out := make([]byte, 0, 3*len(failed))
	for _, f := range failed {
		out = append(out, uint8(f.Status))
		out = binary.LittleEndian.AppendUint16(out, f.Attribute)
	}
	return out
}

// ParseWriteResponse returns the failed records of a WriteAttributes
// response. An empty result means every record was written.
func ParseWriteResponse(data []byte) ([]WriteStatus, error) {
	if len(data) == 1 && data[0] == uint8(zcl.StatusSuccess) {
		return nil, nil
	}
	if len(data) == 0 || len(data)%3 != 0 {
		return nil, malformed("write response of %d bytes", len(data))
	}
	var out []WriteStatus
	for ; len(data) >= 3; data = data[3:] {
		out = append(out, WriteStatus{
			Status:    zcl.Status(data[0]),
			Attribute: binary.LittleEndian.Uint16(data[1:3]),
		})
	}
	return out, nil
}
