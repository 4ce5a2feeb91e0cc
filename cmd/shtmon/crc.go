package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/shtmon/checksum"
	"github.com/mklimuk/shtmon/cmd/shtmon/console"
)

var crcCmd = cli.Command{
	Name:      "crc",
	Usage:     "compute or validate the checksum of a data word",
	ArgsUsage: "HIGH LOW [CHECKSUM]",
	Action: func(c *cli.Context) error {
		out, err := crc(c.Args().Slice())
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		console.Printf("%s\n", out)
		return nil
	},
}

// referenceVector is the word and checksum checked at power-on.
var referenceVector = [3]byte{0xDE, 0xAD, 0x98}

func crcReferenceOK() bool {
	return checksum.Validate(referenceVector[0], referenceVector[1], referenceVector[2])
}

// crc takes the word bytes and an optional checksum. With two arguments it
// prints the checksum, with three it prints true or false.
func crc(args []string) (string, error) {
	if len(args) != 2 && len(args) != 3 {
		return "", fmt.Errorf("expected HIGH LOW [CHECKSUM], got %d arguments", len(args))
	}
	values := make([]byte, len(args))
	for i, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 8)
		if err != nil {
			return "", fmt.Errorf("invalid byte %q: %w", arg, err)
		}
		values[i] = byte(v)
	}
	if len(values) == 2 {
		return fmt.Sprintf("0x%02x", checksum.Sum(values[0], values[1])), nil
	}
	return strconv.FormatBool(checksum.Validate(values[0], values[1], values[2])), nil
}
