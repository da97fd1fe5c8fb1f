// Package bpfrun implements the filter runner: a program is parsed once,
// outside the hot loop, and then run per record with no I/O and no
// mutation of its input.
package bpfrun

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// Program is a pre-parsed, immutable filter ready to run against raw
// frame bytes.
type Program struct {
	vm  *bpf.VM
	raw []bpf.RawInstruction
}

// Parse compiles a filter program from source, which is either a path to a
// netsniff-ng/tcpdump "-dd" style numeric rules file (one instruction per
// line: "op jt jf k", matching what a human copies out of `tcpdump -dd`)
// or, if source contains no such file, a literal string in the same
// format. linkType is accepted for forward compatibility with expression
// filters that need to know the capture link layer; the numeric-rules
// path does not consult it.
func Parse(source string, linkType uint32) (*Program, error) {
	var body string
	if data, err := os.ReadFile(source); err == nil {
		body = string(data)
	} else {
		body = source
	}

	insts, err := parseRules(body)
	if err != nil {
		return nil, fmt.Errorf("bpfrun: parse filter: %w", err)
	}
	if len(insts) == 0 {
		return nil, fmt.Errorf("bpfrun: filter program is empty")
	}

	ifaces := make([]bpf.Instruction, len(insts))
	for i, r := range insts {
		ifaces[i] = r.Disassemble()
	}
	vm, err := bpf.NewVM(ifaces)
	if err != nil {
		return nil, fmt.Errorf("bpfrun: assemble filter: %w", err)
	}
	return &Program{vm: vm, raw: insts}, nil
}

// parseRules reads one "op jt jf k" tuple per non-empty, non-comment line.
func parseRules(body string) ([]bpf.RawInstruction, error) {
	var out []bpf.RawInstruction
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		line = strings.Trim(line, "{},")
		if line == "" || strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})
		if len(fields) != 4 {
			return nil, fmt.Errorf("malformed filter line %q: want 4 fields, got %d", line, len(fields))
		}
		vals := make([]uint64, 4)
		for i, f := range fields {
			v, err := strconv.ParseUint(f, 0, 32)
			if err != nil {
				return nil, fmt.Errorf("malformed filter field %q: %w", f, err)
			}
			vals[i] = v
		}
		out = append(out, bpf.RawInstruction{
			Op: uint16(vals[0]),
			Jt: uint8(vals[1]),
			Jf: uint8(vals[2]),
			K:  uint32(vals[3]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Run reports whether the first length bytes of data are accepted by
// prog. It performs no I/O and never mutates data.
func Run(prog *Program, data []byte, length int) bool {
	if length < len(data) {
		data = data[:length]
	}
	n, err := prog.vm.Run(data)
	if err != nil {
		return false
	}
	return n > 0
}

// SockFilter renders prog's raw instructions as unix.SockFilter, ready
// for ring.Ring.AttachFilter to install the same program at the kernel
// level via SO_ATTACH_FILTER: a classic BPF instruction is laid out
// identically in both APIs (op/jt/jf/k), so this is a pure field copy.
func (p *Program) SockFilter() []unix.SockFilter {
	out := make([]unix.SockFilter, len(p.raw))
	for i, r := range p.raw {
		out[i] = unix.SockFilter{Code: r.Op, Jt: r.Jt, Jf: r.Jf, K: r.K}
	}
	return out
}

// AcceptAll is the zero-configuration program used when no filter was
// requested: every record passes.
func AcceptAll() *Program { return nil }

// RunOrAccept is Run, except a nil program (AcceptAll) always accepts.
func RunOrAccept(prog *Program, data []byte, length int) bool {
	if prog == nil {
		return true
	}
	return Run(prog, data, length)
}
