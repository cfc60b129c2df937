package codec

import (
	"encoding/binary"

	"github.com/arloliu/mqread/types"
)

// SubMessage is one logical message packed inside a merged wire message.
type SubMessage struct {
	Hash uint16
	Mask uint8
	Data []byte
}

// PackMerged encodes sub-messages as
//
//	uvarint(count) { uint16le(hash) uint8(mask) uvarint(len) data }*
func PackMerged(subs []SubMessage) []byte {
	size := binary.MaxVarintLen64
	for _, s := range subs {
		size += 3 + binary.MaxVarintLen64 + len(s.Data)
	}

	buf := make([]byte, 0, size)
	buf = binary.AppendUvarint(buf, uint64(len(subs)))
	for _, s := range subs {
		buf = binary.LittleEndian.AppendUint16(buf, s.Hash)
		buf = append(buf, s.Mask)
		buf = binary.AppendUvarint(buf, uint64(len(s.Data)))
		buf = append(buf, s.Data...)
	}

	return buf
}

// UnpackMerged decodes the output of PackMerged. Sub-message data aliases data.
func UnpackMerged(data []byte) ([]SubMessage, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, types.NewError(types.CodeInvalidResponse, "merged message: bad count")
	}
	if count == 0 || count > uint64(types.MaxHashKey) {
		return nil, types.NewError(types.CodeInvalidResponse, "merged message: count %d out of range", count)
	}
	data = data[n:]

	subs := make([]SubMessage, 0, count)
	for i := range count {
		if len(data) < 3 {
			return nil, types.NewError(types.CodeInvalidResponse, "merged message: truncated header of sub-message %d", i)
		}
		sub := SubMessage{Hash: binary.LittleEndian.Uint16(data), Mask: data[2]}
		data = data[3:]

		size, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data)-n) < size {
			return nil, types.NewError(types.CodeInvalidResponse, "merged message: truncated body of sub-message %d", i)
		}
		sub.Data = data[n : n+int(size)]
		data = data[n+int(size):]
		subs = append(subs, sub)
	}
	if len(data) != 0 {
		return nil, types.NewError(types.CodeInvalidResponse, "merged message: %d trailing bytes", len(data))
	}

	return subs, nil
}
