package carbon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// pickle protocol 2 操作码（carbon 的 pickle receiver 只接受基础类型）
const (
	opProto      = 0x80
	opEmptyList  = ']'
	opMark       = '('
	opBinUnicode = 'X'
	opBinInt     = 'J'
	opLong1      = 0x8a
	opTuple2     = 0x86
	opAppends    = 'e'
	opStop       = '.'
)

// 单个 APPENDS 最多携带的元素数，与 CPython pickler 的批量大小一致
const appendsBatch = 1000

// EncodeBatch 将 batch 编码为 pickle 格式的 [(path, (timestamp, value)), ...]
func EncodeBatch(batch Batch) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(batch) * 64)
	buf.WriteByte(opProto)
	buf.WriteByte(2)
	buf.WriteByte(opEmptyList)

	for start := 0; start < len(batch); start += appendsBatch {
		end := min(start+appendsBatch, len(batch))
		buf.WriteByte(opMark)
		for _, m := range batch[start:end] {
			if err := writeUnicode(&buf, m.Path); err != nil {
				return nil, err
			}
			writeInt(&buf, m.Timestamp)
			if err := writeUnicode(&buf, m.Value); err != nil {
				return nil, err
			}
			buf.WriteByte(opTuple2)
			buf.WriteByte(opTuple2)
		}
		buf.WriteByte(opAppends)
	}
	buf.WriteByte(opStop)
	return buf.Bytes(), nil
}

func writeUnicode(buf *bytes.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("pickle: invalid utf-8 string %q", s)
	}
	if uint64(len(s)) > math.MaxUint32 {
		return fmt.Errorf("pickle: string too long (%d bytes)", len(s))
	}
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	buf.WriteByte(opBinUnicode)
	buf.Write(n[:])
	buf.WriteString(s)
	return nil
}

func writeInt(buf *bytes.Buffer, v int64) {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(int32(v)))
		buf.WriteByte(opBinInt)
		buf.Write(n[:])
		return
	}
	// LONG1：小端补码，取能表示该值的最短字节数
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	n := 8
	for n > 1 {
		last, prev := b[n-1], b[n-2]
		if (last == 0x00 && prev&0x80 == 0) || (last == 0xff && prev&0x80 != 0) {
			n--
			continue
		}
		break
	}
	buf.WriteByte(opLong1)
	buf.WriteByte(byte(n))
	buf.Write(b[:n])
}

// FramePayload 加上 4 字节大端长度头
func FramePayload(payload []byte) ([]byte, error) {
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("payload too large: %d bytes", len(payload))
	}
	msg := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(msg[:4], uint32(len(payload)))
	copy(msg[4:], payload)
	return msg, nil
}
