package types

import (
	"fmt"
)

type Resolution struct {
	Width  uint32
	Height uint32
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

func (r Resolution) IsZero() bool {
	return r.Width == 0 || r.Height == 0
}

func (r *Resolution) Parse(s string) error {
	_, err := fmt.Sscanf(s, "%dx%d", &r.Width, &r.Height)
	if err != nil {
		return fmt.Errorf("unable to parse resolution '%s': %w", s, err)
	}
	return nil
}

// Set implements pflag.Value.
func (r *Resolution) Set(s string) error {
	return r.Parse(s)
}

// Type implements pflag.Value.
func (r *Resolution) Type() string {
	return "resolution"
}
