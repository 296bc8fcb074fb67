package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
)

// Group sorts commands into sections of the global help.
type Group int

const (
	GroupFiles Group = iota
	GroupWorker
	GroupConfig
)

var groupTitles = map[Group]string{
	GroupFiles:  "Drive files",
	GroupWorker: "Worker",
	GroupConfig: "Configuration",
}

func (g Group) String() string {
	if title, ok := groupTitles[g]; ok {
		return title
	}

	return fmt.Sprintf("group(%d)", int(g))
}

// Command is one usbstore subcommand.
type Command struct {
	// Flags defines command-specific flags. Its name is unused; the command
	// name comes from Usage.
	Flags *flag.FlagSet

	// Usage is shown after "usbstore" in help, e.g. "put <name> [file]".
	Usage string

	Short string

	// Long is shown by "usbstore <cmd> --help". Short is used when empty.
	Long string

	Group Group

	// MinArgs and MaxArgs bound the positional arguments. Both zero means
	// the command takes none. A negative MaxArgs means no upper bound.
	MinArgs int
	MaxArgs int

	// Exec runs the command after flags and argument count are checked.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the command's line in the global help.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-22s %s", c.Usage, c.Short)
}

// checkArgs validates the positional argument count against the bounds.
func (c *Command) checkArgs(args []string) error {
	switch {
	case len(args) < c.MinArgs:
		return fmt.Errorf("%w: usage: usbstore %s", ErrMissingArg, c.Usage)
	case c.MaxArgs >= 0 && len(args) > max(c.MaxArgs, c.MinArgs):
		return fmt.Errorf("%w: usage: usbstore %s", ErrTooManyArgs, c.Usage)
	}

	return nil
}

// PrintHelp prints the output of "usbstore <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: usbstore", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}

	o.Println(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")
		o.Printf("%s", c.Flags.FlagUsages())
	}
}

// Run parses flags, checks the arguments and executes the command. It
// returns the exit code; errors are printed here.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{}) // discard pflag output

	err := c.Flags.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)

			return 0
		}

		o.ErrPrintln("error:", err)
		o.ErrPrintln()
		c.PrintHelp(o)

		return 1
	}

	if err := c.checkArgs(c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	if err := c.Exec(ctx, o, c.Flags.Args()); err != nil {
		o.ErrPrintln("error:", err)

		return 1
	}

	return 0
}

// groupCommands splits cmds by group, keeping their order within a group.
func groupCommands(cmds []*Command) map[Group][]*Command {
	out := make(map[Group][]*Command)

	for _, c := range cmds {
		out[c.Group] = append(out[c.Group], c)
	}

	return out
}
