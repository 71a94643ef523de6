package registration

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-p2pbus/pkg/types"
)

// ErrMalformed 注册记录无法解码
var ErrMalformed = errors.New("registration: malformed record")

// 线格式字段编号
//
//	Registration  { 1 cmd; 2 TopicID identifier; 3 Topic topic; 4 Process process }
//	TopicID       { 1 topic_name; 2 entity_id; 3 process_id; 4 host_name }
//	Topic         { 1 name; 2 DataType data_type; 3 layers; 4 Params params;
//	                5 data_clock; 6 data_frequency; 7 connections_local;
//	                8 connections_external; 9 message_drops; 10 latency_us (double) }
//	DataType      { 1 name; 2 encoding; 3 descriptor }
//	Params        { 1 SHM shm; 2 TCP tcp }
//	SHM           { 1 domain; 2 repeated memory_files }
//	TCP           { 1 host; 2 port }
//	Process       { 1 unit_name; 2 process_name }
const (
	fieldCmd        protowire.Number = 1
	fieldIdentifier protowire.Number = 2
	fieldTopic      protowire.Number = 3
	fieldProcess    protowire.Number = 4
)

// ============================================================================
//                              编码
// ============================================================================

// Marshal 编码注册记录
func Marshal(r *types.Registration) []byte {
	return Append(nil, r)
}

// Append 把编码结果追加到 b
func Append(b []byte, r *types.Registration) []byte {
	b = appendVarint(b, fieldCmd, uint64(r.Cmd))
	b = appendMessage(b, fieldIdentifier, appendTopicID(nil, r.Identifier))
	b = appendMessage(b, fieldTopic, appendTopic(nil, r.Topic))
	b = appendMessage(b, fieldProcess, appendProcess(nil, r.Process))
	return b
}

func appendTopicID(b []byte, id types.TopicID) []byte {
	b = appendString(b, 1, id.TopicName)
	b = appendVarint(b, 2, uint64(id.EntityID))
	b = appendVarint(b, 3, uint64(int64(id.ProcessID)))
	b = appendString(b, 4, id.HostName)
	return b
}

func appendTopic(b []byte, t types.TopicRecord) []byte {
	b = appendString(b, 1, t.Name)
	b = appendMessage(b, 2, appendDataType(nil, t.DataType))
	b = appendVarint(b, 3, uint64(t.Layers))
	b = appendMessage(b, 4, appendParams(nil, t.Params))
	b = appendVarint(b, 5, t.DataClock)
	b = appendVarint(b, 6, uint64(t.DataFrequency))
	b = appendVarint(b, 7, uint64(int64(t.ConnectionsLocal)))
	b = appendVarint(b, 8, uint64(int64(t.ConnectionsExternal)))
	b = appendVarint(b, 9, t.MessageDrops)
	if t.LatencyUs != 0 {
		b = protowire.AppendTag(b, 10, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(t.LatencyUs))
	}
	return b
}

func appendDataType(b []byte, d types.DataTypeInfo) []byte {
	b = appendString(b, 1, d.Name)
	b = appendString(b, 2, d.Encoding)
	if len(d.Descriptor) > 0 {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Descriptor)
	}
	return b
}

func appendParams(b []byte, p types.LayerParameters) []byte {
	var shm []byte
	shm = appendString(shm, 1, p.SHM.Domain)
	for _, f := range p.SHM.MemoryFiles {
		shm = protowire.AppendTag(shm, 2, protowire.BytesType)
		shm = protowire.AppendString(shm, f)
	}
	b = appendMessage(b, 1, shm)

	var tcp []byte
	tcp = appendString(tcp, 1, p.TCP.Host)
	tcp = appendVarint(tcp, 2, uint64(int64(p.TCP.Port)))
	return appendMessage(b, 2, tcp)
}

func appendProcess(b []byte, p types.ProcessRecord) []byte {
	b = appendString(b, 1, p.UnitName)
	return appendString(b, 2, p.ProcessName)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	if len(msg) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// ============================================================================
//                              解码
// ============================================================================

// Unmarshal 解码注册记录，未知字段被跳过
func Unmarshal(b []byte) (*types.Registration, error) {
	r := &types.Registration{}
	err := walk(b, func(f field) error {
		switch f.num {
		case fieldCmd:
			return f.varintInto(func(v uint64) { r.Cmd = types.CmdType(v) })
		case fieldIdentifier:
			return f.message(func(m []byte) error { return decodeTopicID(m, &r.Identifier) })
		case fieldTopic:
			return f.message(func(m []byte) error { return decodeTopic(m, &r.Topic) })
		case fieldProcess:
			return f.message(func(m []byte) error { return decodeProcess(m, &r.Process) })
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !r.Cmd.IsValid() {
		return nil, fmt.Errorf("%w: unknown command %d", ErrMalformed, r.Cmd)
	}
	return r, nil
}

func decodeTopicID(b []byte, id *types.TopicID) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return f.stringInto(&id.TopicName)
		case 2:
			return f.varintInto(func(v uint64) { id.EntityID = types.EntityID(v) })
		case 3:
			return f.varintInto(func(v uint64) { id.ProcessID = int32(int64(v)) })
		case 4:
			return f.stringInto(&id.HostName)
		}
		return nil
	})
}

func decodeTopic(b []byte, t *types.TopicRecord) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return f.stringInto(&t.Name)
		case 2:
			return f.message(func(m []byte) error { return decodeDataType(m, &t.DataType) })
		case 3:
			return f.varintInto(func(v uint64) { t.Layers = types.ActiveLayers(v) })
		case 4:
			return f.message(func(m []byte) error { return decodeParams(m, &t.Params) })
		case 5:
			return f.varintInto(func(v uint64) { t.DataClock = v })
		case 6:
			return f.varintInto(func(v uint64) { t.DataFrequency = int64(v) })
		case 7:
			return f.varintInto(func(v uint64) { t.ConnectionsLocal = int32(int64(v)) })
		case 8:
			return f.varintInto(func(v uint64) { t.ConnectionsExternal = int32(int64(v)) })
		case 9:
			return f.varintInto(func(v uint64) { t.MessageDrops = v })
		case 10:
			if f.typ != protowire.Fixed64Type {
				return f.mismatch()
			}
			t.LatencyUs = math.Float64frombits(f.fixed)
		}
		return nil
	})
}

func decodeDataType(b []byte, d *types.DataTypeInfo) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return f.stringInto(&d.Name)
		case 2:
			return f.stringInto(&d.Encoding)
		case 3:
			if f.typ != protowire.BytesType {
				return f.mismatch()
			}
			d.Descriptor = append([]byte(nil), f.bytes...)
		}
		return nil
	})
}

func decodeParams(b []byte, p *types.LayerParameters) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return f.message(func(m []byte) error {
				return walk(m, func(g field) error {
					switch g.num {
					case 1:
						return g.stringInto(&p.SHM.Domain)
					case 2:
						var s string
						if err := g.stringInto(&s); err != nil {
							return err
						}
						p.SHM.MemoryFiles = append(p.SHM.MemoryFiles, s)
					}
					return nil
				})
			})
		case 2:
			return f.message(func(m []byte) error {
				return walk(m, func(g field) error {
					switch g.num {
					case 1:
						return g.stringInto(&p.TCP.Host)
					case 2:
						return g.varintInto(func(v uint64) { p.TCP.Port = int(int64(v)) })
					}
					return nil
				})
			})
		}
		return nil
	})
}

func decodeProcess(b []byte, p *types.ProcessRecord) error {
	return walk(b, func(f field) error {
		switch f.num {
		case 1:
			return f.stringInto(&p.UnitName)
		case 2:
			return f.stringInto(&p.ProcessName)
		}
		return nil
	})
}

// field 一个已切分的字段
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	fixed  uint64
	bytes  []byte
}

func (f field) mismatch() error {
	return fmt.Errorf("%w: field %d has wire type %d", ErrMalformed, f.num, f.typ)
}

func (f field) varintInto(set func(uint64)) error {
	if f.typ != protowire.VarintType {
		return f.mismatch()
	}
	set(f.varint)
	return nil
}

func (f field) stringInto(dst *string) error {
	if f.typ != protowire.BytesType {
		return f.mismatch()
	}
	*dst = string(f.bytes)
	return nil
}

func (f field) message(decode func([]byte) error) error {
	if f.typ != protowire.BytesType {
		return f.mismatch()
	}
	return decode(f.bytes)
}

// walk 依次切分 b 中的字段
func walk(b []byte, fn func(field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.fixed, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}
