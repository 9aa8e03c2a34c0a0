package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Keys for setting various parameters within the command line via
// "key=value" arguments.
const (
	KeyMap      = "map"
	KeyBindings = "bindings"
	KeyTaxonomy = "tax"
	KeyOut      = "out"
	KeyRegions  = "regions"
	KeyIndex    = "index"
	KeyBinary   = "binary"
	KeyPNG      = "png"
	KeySemantic = "semantic"
	KeyMHD      = "mhd"
	KeyValidate = "validate"
	KeyPrune    = "prune"
	KeyV2       = "v2"
)

var setKeys = map[string]bool{
	KeyMap:      true,
	KeyBindings: true,
	KeyTaxonomy: true,
	KeyOut:      true,
	KeyRegions:  true,
	KeyIndex:    true,
	KeyBinary:   true,
	KeyPNG:      true,
	KeySemantic: true,
	KeyMHD:      true,
	KeyValidate: true,
	KeyPrune:    true,
	KeyV2:       true,
}

// Command is one operator command line.
type Command struct {
	// Args lists the elements of the command where Args[0] is the command
	// string and the other arguments are command arguments or optional
	// settings of the form "<key>=<value>".
	Args []string
}

func (cmd *Command) String() string {
	return strings.Join(cmd.Args, " ")
}

// Name returns the first argument which is assumed to be the name of the command.
func (cmd *Command) Name() string {
	if len(cmd.Args) == 0 {
		return ""
	}
	return cmd.Args[0]
}

// GetSetting scans a command for any "key=value" argument and returns
// the value of the passed 'key'.
func (cmd *Command) GetSetting(key string) (value string, found bool) {
	if len(cmd.Args) > 1 {
		for _, arg := range cmd.Args[1:] {
			elems := strings.Split(arg, "=")
			if len(elems) == 2 && elems[0] == key {
				value = elems[1]
				found = true
				return
			}
		}
	}
	return
}

// GetBoolSetting returns the boolean value of a "key=value" argument, or
// the default when the command doesn't carry the key.
func (cmd *Command) GetBoolSetting(key string, dflt bool) (bool, error) {
	value, found := cmd.GetSetting(key)
	if !found {
		return dflt, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return dflt, fmt.Errorf("setting %q is not a boolean: %q", key, value)
	}
	return b, nil
}

// GetIntSetting returns the integer value of a "key=value" argument and
// whether the command carried the key at all.
func (cmd *Command) GetIntSetting(key string) (value int, found bool, err error) {
	var s string
	if s, found = cmd.GetSetting(key); !found {
		return
	}
	if value, err = strconv.Atoi(s); err != nil {
		err = fmt.Errorf("setting %q is not a number: %q", key, s)
	}
	return
}

// SetCommandArgs sets a variadic argument set of string pointers to
// command arguments, ignoring setting arguments of the form "<key>=<value>".
// If there aren't enough arguments to set a target, the target is set to the
// empty string.  It returns an 'overflow' slice that has all arguments
// beyond those needed for targets.
func (cmd *Command) SetCommandArgs(targets ...*string) (overflow []string) {
	return setArgs(cmd.Args, 1, targets...)
}

// SetSubcommandArgs is like SetCommandArgs but skips the subcommand word in
// Args[1] as well.
func (cmd *Command) SetSubcommandArgs(targets ...*string) (overflow []string) {
	return setArgs(cmd.Args, 2, targets...)
}

func setArgs(args []string, startPos int, targets ...*string) (overflow []string) {
	overflow = make([]string, 0, len(args))
	for _, target := range targets {
		*target = ""
	}
	if len(args) > startPos {
		numTargets := len(targets)
		curTarget := 0
		for _, arg := range args[startPos:] {
			optionalSet := false
			elems := strings.Split(arg, "=")
			if len(elems) == 2 {
				_, optionalSet = setKeys[elems[0]]
			}
			if !optionalSet {
				if curTarget >= numTargets {
					overflow = append(overflow, arg)
				} else {
					*(targets[curTarget]) = arg
				}
				curTarget++
			}
		}
	}
	return
}
