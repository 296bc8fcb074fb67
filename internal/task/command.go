package task

import (
	"fmt"

	"github.com/calvinalkan/usbstore/internal/storage"
)

// Class separates commands every task understands from commands specific
// to the storage task.
type Class uint8

const (
	ClassGlobal Class = iota + 1
	ClassTaskSpecific
)

func (c Class) String() string {
	switch c {
	case ClassGlobal:
		return "global"
	case ClassTaskSpecific:
		return "task"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Opcode selects the handler for a command.
type Opcode uint16

// Storage task opcodes.
const (
	OpInit Opcode = iota + 1
	OpTest
	OpLogData
	OpCleanup
)

// GlobalExec runs a caller supplied function against the store on the
// worker. It is the only global opcode the storage task handles.
const GlobalExec Opcode = 0x100

func (o Opcode) String() string {
	switch o {
	case OpInit:
		return "init"
	case OpTest:
		return "test"
	case OpLogData:
		return "log_data"
	case OpCleanup:
		return "cleanup"
	case GlobalExec:
		return "exec"
	default:
		return fmt.Sprintf("op(%d)", uint16(o))
	}
}

// Command is a message for the worker. It is consumed exactly once and
// must be Reset after handling.
type Command struct {
	Class Class
	Op    Opcode

	exec  func(*storage.Store) error
	reply chan error
}

// NewCommand returns a task specific command without payload.
func NewCommand(op Opcode) Command {
	return Command{Class: ClassTaskSpecific, Op: op}
}

// NewExec returns a global command that runs fn on the worker and delivers
// its result on reply. reply must have room for one value.
func NewExec(fn func(*storage.Store) error, reply chan error) Command {
	return Command{Class: ClassGlobal, Op: GlobalExec, exec: fn, reply: reply}
}

// Reset releases the payload.
func (c *Command) Reset() {
	c.exec = nil
	c.reply = nil
}

// hasPayload reports whether Reset still has something to release.
func (c *Command) hasPayload() bool {
	return c.exec != nil || c.reply != nil
}
