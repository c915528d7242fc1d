package sched

import "fmt"

// Enum parsers for config files and CLI flags. Accepted spellings match
// the String() forms.

var cpuTypeNames = map[string]CPUType{
	"ARM":   ARM,
	"POWER": Power,
	"RISCV": RISCV,
	"X86":   X86,
}

// ParseCPUType converts a config spelling to a CPUType.
func ParseCPUType(s string) (CPUType, error) {
	if c, ok := cpuTypeNames[s]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("unknown CPU type %q", s)
}

var vmTypeNames = map[string]VMType{
	"LINUX":    Linux,
	"LINUX_RT": LinuxRT,
	"WIN":      Win,
	"AIX":      AIX,
}

// ParseVMType converts a config spelling to a VMType.
func ParseVMType(s string) (VMType, error) {
	if v, ok := vmTypeNames[s]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown VM type %q", s)
}

var slaClassNames = map[string]SLAClass{
	"SLA0": SLA0,
	"SLA1": SLA1,
	"SLA2": SLA2,
	"SLA3": SLA3,
}

// ParseSLAClass converts a config spelling to an SLAClass.
func ParseSLAClass(s string) (SLAClass, error) {
	if c, ok := slaClassNames[s]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("unknown SLA class %q", s)
}
