package testutil

import (
	"encoding/binary"
	"fmt"
	"math/big"
)

// Metric 从 carbon 帧中解码出的采样点
type Metric struct {
	Path      string
	Timestamp int64
	Value     string
}

type mark struct{}

// DecodePickle 解码 carbon pickle 负载中的 [(path, (timestamp, value)), ...]。
// 只支持 relay 会产生的操作码。
func DecodePickle(data []byte) ([]Metric, error) {
	var (
		stack []any
		pos   int
	)
	need := func(n int) error {
		if pos+n > len(data) {
			return fmt.Errorf("pickle: truncated at offset %d", pos)
		}
		return nil
	}
	popMark := func() ([]any, error) {
		for i := len(stack) - 1; i >= 0; i-- {
			if _, ok := stack[i].(mark); ok {
				items := append([]any(nil), stack[i+1:]...)
				stack = stack[:i]
				return items, nil
			}
		}
		return nil, fmt.Errorf("pickle: mark not found")
	}

	for pos < len(data) {
		op := data[pos]
		pos++
		switch op {
		case 0x80:
			if err := need(1); err != nil {
				return nil, err
			}
			pos++
		case ']':
			stack = append(stack, []any{})
		case '(':
			stack = append(stack, mark{})
		case 'X':
			if err := need(4); err != nil {
				return nil, err
			}
			n := int(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
			if err := need(n); err != nil {
				return nil, err
			}
			stack = append(stack, string(data[pos:pos+n]))
			pos += n
		case 'J':
			if err := need(4); err != nil {
				return nil, err
			}
			stack = append(stack, int64(int32(binary.LittleEndian.Uint32(data[pos:]))))
			pos += 4
		case 0x8a:
			if err := need(1); err != nil {
				return nil, err
			}
			n := int(data[pos])
			pos++
			if err := need(n); err != nil {
				return nil, err
			}
			be := make([]byte, n)
			for i := 0; i < n; i++ {
				be[n-1-i] = data[pos+i]
			}
			v := new(big.Int).SetBytes(be)
			if n > 0 && data[pos+n-1]&0x80 != 0 {
				v.Sub(v, new(big.Int).Lsh(big.NewInt(1), uint(8*n)))
			}
			stack = append(stack, v.Int64())
			pos += n
		case 0x86:
			if len(stack) < 2 {
				return nil, fmt.Errorf("pickle: TUPLE2 on short stack")
			}
			t := [2]any{stack[len(stack)-2], stack[len(stack)-1]}
			stack = append(stack[:len(stack)-2], t)
		case 'e':
			items, err := popMark()
			if err != nil {
				return nil, err
			}
			list, ok := stack[len(stack)-1].([]any)
			if !ok {
				return nil, fmt.Errorf("pickle: APPENDS target is not a list")
			}
			stack[len(stack)-1] = append(list, items...)
		case '.':
			if len(stack) != 1 {
				return nil, fmt.Errorf("pickle: unexpected stack size %d at STOP", len(stack))
			}
			return toMetrics(stack[0])
		default:
			return nil, fmt.Errorf("pickle: unsupported opcode 0x%02x", op)
		}
	}
	return nil, fmt.Errorf("pickle: missing STOP")
}

func toMetrics(v any) ([]Metric, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("pickle: top level is %T, want list", v)
	}
	out := make([]Metric, 0, len(list))
	for _, item := range list {
		outer, ok := item.([2]any)
		if !ok {
			return nil, fmt.Errorf("pickle: item is %T, want tuple", item)
		}
		inner, ok := outer[1].([2]any)
		if !ok {
			return nil, fmt.Errorf("pickle: datapoint is %T, want tuple", outer[1])
		}
		path, _ := outer[0].(string)
		ts, _ := inner[0].(int64)
		value, _ := inner[1].(string)
		out = append(out, Metric{Path: path, Timestamp: ts, Value: value})
	}
	return out, nil
}
