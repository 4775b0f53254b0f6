package source

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/bpf"

	"firestige.xyz/dissector/internal/core"
)

const snapLen = 65535

// rawProgram matches tcpdump -ddd output, with lines joined by commas or newlines.
var rawProgram = regexp.MustCompile(`^\d+\s*[,\n]`)

// Filter runs a classic BPF program against captured frames.
type Filter struct {
	expr string
	vm   *bpf.VM
}

// CompileFilter builds a filter for frames whose outermost layer is link.
//
// expr is either tcpdump -ddd output ("4,40 0 0 12,21 0 1 2048,6 0 0 65535,6 0 0 0")
// or a small tcpdump subset: primitives ip, ip6, tcp, udp, src ADDR, dst ADDR,
// host ADDR and net CIDR joined by "and". Address primitives match IPv4 only.
// An empty expression returns a nil filter, which accepts everything.
func CompileFilter(expr string, link core.Protocol) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	var (
		insns []bpf.Instruction
		err   error
	)
	if rawProgram.MatchString(expr) {
		insns, err = parseRawProgram(expr)
	} else {
		insns, err = compileExpression(strings.ToLower(expr), link)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: bpf %q: %v", core.ErrConfigInvalid, expr, err)
	}

	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("%w: bpf %q: %v", core.ErrConfigInvalid, expr, err)
	}
	return &Filter{expr: expr, vm: vm}, nil
}

// Match reports whether the program keeps data. A nil filter keeps everything.
func (f *Filter) Match(data []byte) bool {
	if f == nil {
		return true
	}
	n, err := f.vm.Run(data)
	return err == nil && n > 0
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

func parseRawProgram(expr string) ([]bpf.Instruction, error) {
	lines := strings.FieldsFunc(expr, func(r rune) bool { return r == ',' || r == '\n' })
	count, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("instruction count: %v", err)
	}
	if count != len(lines)-1 {
		return nil, fmt.Errorf("declares %d instructions, has %d", count, len(lines)-1)
	}

	raw := make([]bpf.RawInstruction, 0, count)
	for i, line := range lines[1:] {
		parts := strings.Fields(line)
		if len(parts) != 4 {
			return nil, fmt.Errorf("instruction %d: want 4 fields, got %d", i, len(parts))
		}
		var v [4]uint64
		for j, p := range parts {
			bits := 8
			switch j {
			case 0:
				bits = 16
			case 3:
				bits = 32
			}
			if v[j], err = strconv.ParseUint(p, 10, bits); err != nil {
				return nil, fmt.Errorf("instruction %d: %v", i, err)
			}
		}
		raw = append(raw, bpf.RawInstruction{Op: uint16(v[0]), Jt: uint8(v[1]), Jf: uint8(v[2]), K: uint32(v[3])})
	}

	insns, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("program contains unknown instructions")
	}
	return insns, nil
}

// program collects instructions whose failing branches all jump to a shared drop.
type program struct {
	insns []bpf.Instruction
	drops []int
}

func (p *program) emit(in ...bpf.Instruction) {
	p.insns = append(p.insns, in...)
}

// require drops the packet unless A == val.
func (p *program) require(val uint32) {
	p.drops = append(p.drops, len(p.insns))
	p.emit(bpf.JumpIf{Cond: bpf.JumpNotEqual, Val: val})
}

func (p *program) finish() []bpf.Instruction {
	p.emit(bpf.RetConstant{Val: snapLen})
	drop := len(p.insns)
	p.emit(bpf.RetConstant{Val: 0})
	for _, at := range p.drops {
		j := p.insns[at].(bpf.JumpIf)
		j.SkipTrue = uint8(drop - at - 1)
		p.insns[at] = j
	}
	return p.insns
}

type primitive struct {
	kind string
	ip   net.IP
	mask net.IPMask
}

func compileExpression(expr string, link core.Protocol) ([]bpf.Instruction, error) {
	var (
		prims  []primitive
		wantV4 bool
		wantV6 bool
		tokens = strings.Fields(expr)
	)
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if tok == "and" || tok == "&&" {
			continue
		}
		switch tok {
		case "ip":
			wantV4 = true
		case "ip6":
			wantV6 = true
		case "tcp", "udp":
			wantV4 = true
			prims = append(prims, primitive{kind: tok})
		case "src", "dst", "host", "net":
			if i+1 >= len(tokens) {
				return nil, fmt.Errorf("%s needs an address", tok)
			}
			i++
			p := primitive{kind: tok}
			if tok == "net" {
				_, n, err := net.ParseCIDR(tokens[i])
				if err != nil {
					return nil, err
				}
				p.ip, p.mask = n.IP.To4(), n.Mask
			} else {
				p.ip = net.ParseIP(tokens[i]).To4()
			}
			if p.ip == nil {
				return nil, fmt.Errorf("%s %s: only IPv4 addresses are supported", tok, tokens[i])
			}
			wantV4 = true
			prims = append(prims, p)
		default:
			return nil, fmt.Errorf("unsupported primitive %q", tok)
		}
	}
	if wantV4 && wantV6 {
		return nil, fmt.Errorf("ip and ip6 can never both match")
	}

	var base uint32
	p := &program{}
	switch {
	case link.Is(core.ProtocolEthernet):
		base = 14
		if wantV4 || wantV6 {
			p.emit(bpf.LoadAbsolute{Off: 12, Size: 2})
			if wantV6 {
				p.require(0x86DD)
			} else {
				p.require(0x0800)
			}
		}
	case link.Is(core.ProtocolIPv4), link.Is(core.ProtocolIPv6):
		if wantV4 || wantV6 {
			p.emit(
				bpf.LoadAbsolute{Off: 0, Size: 1},
				bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: 0xf0},
			)
			if wantV6 {
				p.require(0x60)
			} else {
				p.require(0x40)
			}
		}
	default:
		return nil, fmt.Errorf("filters are not supported on %s links", link)
	}

	for _, prim := range prims {
		switch prim.kind {
		case "tcp":
			p.emit(bpf.LoadAbsolute{Off: base + 9, Size: 1})
			p.require(6)
		case "udp":
			p.emit(bpf.LoadAbsolute{Off: base + 9, Size: 1})
			p.require(17)
		case "src":
			p.emit(bpf.LoadAbsolute{Off: base + 12, Size: 4})
			p.require(ipValue(prim.ip))
		case "dst":
			p.emit(bpf.LoadAbsolute{Off: base + 16, Size: 4})
			p.require(ipValue(prim.ip))
		case "host":
			// source match skips the destination check
			p.emit(
				bpf.LoadAbsolute{Off: base + 12, Size: 4},
				bpf.JumpIf{Cond: bpf.JumpEqual, Val: ipValue(prim.ip), SkipTrue: 2},
				bpf.LoadAbsolute{Off: base + 16, Size: 4},
			)
			p.require(ipValue(prim.ip))
		case "net":
			mask := ipValue(net.IP(prim.mask))
			p.emit(
				bpf.LoadAbsolute{Off: base + 12, Size: 4},
				bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: mask},
				bpf.JumpIf{Cond: bpf.JumpEqual, Val: ipValue(prim.ip), SkipTrue: 3},
				bpf.LoadAbsolute{Off: base + 16, Size: 4},
				bpf.ALUOpConstant{Op: bpf.ALUOpAnd, Val: mask},
			)
			p.require(ipValue(prim.ip))
		}
	}
	return p.finish(), nil
}

func ipValue(ip net.IP) uint32 {
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}
