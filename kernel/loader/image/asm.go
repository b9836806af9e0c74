package image

import (
	"fmt"
	"strconv"
	"strings"
)

var regNames = map[string]uint64{
	"zero": 0, "ra": 1, "sp": 2, "gp": 3, "tp": 4,
	"t0": 5, "t1": 6, "t2": 7,
	"s0": 8, "fp": 8, "s1": 9,
	"a0": 10, "a1": 11, "a2": 12, "a3": 13, "a4": 14, "a5": 15, "a6": 16, "a7": 17,
	"s2": 18, "s3": 19, "s4": 20, "s5": 21, "s6": 22, "s7": 23, "s8": 24, "s9": 25, "s10": 26, "s11": 27,
	"t3": 28, "t4": 29, "t5": 30, "t6": 31,
}

// AsmError reports a malformed assembly line.
type AsmError struct {
	Line int
	Text string
	Err  error
}

// Error implements the error interface.
func (e *AsmError) Error() string {
	return fmt.Sprintf("line %d (%q): %v", e.Line, e.Text, e.Err)
}

// Unwrap returns the underlying error.
func (e *AsmError) Unwrap() error {
	return e.Err
}

// Assemble translates the supplied lines into machine code that will be
// loaded at base. A line may define a label ("loop:") and anything after a
// '#' is ignored. Labels and the entries of symbols may be used wherever an
// immediate is expected; branch targets are converted to offsets relative
// to the branch instruction.
func Assemble(lines []string, base uint64, symbols map[string]uint64) ([]byte, error) {
	type stmt struct {
		line int
		text string
		pc   uint64
	}

	var (
		labels = make(map[string]uint64, len(symbols))
		stmts  []stmt
		pc     = base
	)
	for name, addr := range symbols {
		labels[name] = addr
	}

	for i, raw := range lines {
		text := raw
		if idx := strings.IndexByte(text, '#'); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)

		if idx := strings.IndexByte(text, ':'); idx >= 0 {
			label := strings.TrimSpace(text[:idx])
			if _, exists := labels[label]; exists || label == "" {
				return nil, &AsmError{Line: i + 1, Text: raw, Err: fmt.Errorf("duplicate or empty label %q", label)}
			}
			labels[label] = pc
			text = strings.TrimSpace(text[idx+1:])
		}

		if text == "" {
			continue
		}
		stmts = append(stmts, stmt{line: i + 1, text: text, pc: pc})
		pc += InstrSize
	}

	code := make([]byte, len(stmts)*InstrSize)
	for i, s := range stmts {
		in, err := parseInstruction(s.text, s.pc, labels)
		if err != nil {
			return nil, &AsmError{Line: s.line, Text: s.text, Err: err}
		}
		in.Encode(code[i*InstrSize:])
	}

	return code, nil
}

func parseInstruction(text string, pc uint64, labels map[string]uint64) (Instruction, error) {
	mnemonic, rest, _ := strings.Cut(text, " ")
	mnemonic = strings.ToLower(mnemonic)
	var args []string
	if rest = strings.TrimSpace(rest); rest != "" {
		for _, arg := range strings.Split(rest, ",") {
			args = append(args, strings.TrimSpace(arg))
		}
	}

	expectArgs := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s expects %d operands; got %d", mnemonic, n, len(args))
		}
		return nil
	}

	var (
		in  Instruction
		err error
	)
	switch mnemonic {
	case "ecall":
		in.Op = OpEcall
		err = expectArgs(0)
	case "li":
		in.Op = OpLi
		if err = expectArgs(2); err == nil {
			in.X, err = parseReg(args[0])
		}
		if err == nil {
			in.Y, err = parseImm(args[1], labels)
		}
	case "addi":
		in.Op = OpAddi
		if err = expectArgs(3); err == nil {
			in.X, err = parseReg(args[0])
		}
		if err == nil {
			in.Y, err = parseReg(args[1])
		}
		if err == nil {
			in.Z, err = parseImm(args[2], labels)
		}
	case "sd", "ld":
		in.Op = OpSd
		if mnemonic == "ld" {
			in.Op = OpLd
		}
		if err = expectArgs(2); err == nil {
			in.X, err = parseReg(args[0])
		}
		if err == nil {
			in.Z, in.Y, err = parseMemOperand(args[1], labels)
		}
	case "bnez":
		in.Op = OpBnez
		if err = expectArgs(2); err == nil {
			in.X, err = parseReg(args[0])
		}
		if err == nil {
			if target, isLabel := labels[args[1]]; isLabel {
				in.Y = target - pc
			} else {
				in.Y, err = parseImm(args[1], nil)
			}
		}
	default:
		err = fmt.Errorf("unknown mnemonic %q", mnemonic)
	}

	return in, err
}

func parseReg(name string) (uint64, error) {
	if reg, ok := regNames[name]; ok {
		return reg, nil
	}

	if strings.HasPrefix(name, "x") {
		if reg, err := strconv.ParseUint(name[1:], 10, 8); err == nil && reg < NumRegs {
			return reg, nil
		}
	}
	return 0, fmt.Errorf("unknown register %q", name)
}

func parseImm(text string, labels map[string]uint64) (uint64, error) {
	if addr, ok := labels[text]; ok {
		return addr, nil
	}

	if v, err := strconv.ParseInt(text, 0, 64); err == nil {
		return uint64(v), nil
	}

	v, err := strconv.ParseUint(text, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid immediate %q", text)
	}
	return v, nil
}

// parseMemOperand parses "off(reg)".
func parseMemOperand(text string, labels map[string]uint64) (off, reg uint64, err error) {
	lparen, rparen := strings.IndexByte(text, '('), strings.LastIndexByte(text, ')')
	if lparen < 0 || rparen != len(text)-1 || rparen < lparen {
		return 0, 0, fmt.Errorf("invalid memory operand %q", text)
	}

	if offText := strings.TrimSpace(text[:lparen]); offText != "" {
		if off, err = parseImm(offText, labels); err != nil {
			return 0, 0, err
		}
	}

	reg, err = parseReg(strings.TrimSpace(text[lparen+1 : rparen]))
	return off, reg, err
}
