/*
	Package command encapsulates routines to process string commands and
	their optional settings: a command name, positional arguments, and
	trailing "key=value" settings in any order.
*/
package command
