// Package bloodtype implements ABO/Rh red cell compatibility.
package bloodtype

import (
	"fmt"
	"strings"
)

// Type is an ABO/Rh blood group such as "O-" or "AB+"
type Type string

const (
	APos  Type = "A+"
	ANeg  Type = "A-"
	BPos  Type = "B+"
	BNeg  Type = "B-"
	ABPos Type = "AB+"
	ABNeg Type = "AB-"
	OPos  Type = "O+"
	ONeg  Type = "O-"
)

// all is the display order used by inventory cards and forms
var all = []Type{APos, ANeg, BPos, BNeg, ABPos, ABNeg, OPos, ONeg}

// donorsFor maps a recipient to the donor types it can receive
var donorsFor = map[Type][]Type{
	ONeg:  {ONeg},
	OPos:  {ONeg, OPos},
	ANeg:  {ONeg, ANeg},
	APos:  {ONeg, OPos, ANeg, APos},
	BNeg:  {ONeg, BNeg},
	BPos:  {ONeg, OPos, BNeg, BPos},
	ABNeg: {ONeg, ANeg, BNeg, ABNeg},
	ABPos: {ONeg, OPos, ANeg, APos, BNeg, BPos, ABNeg, ABPos},
}

// All returns the eight types in display order
func All() []Type {
	out := make([]Type, len(all))
	copy(out, all)
	return out
}

// Parse validates s. Surrounding whitespace and lowercase letters are accepted.
func Parse(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("invalid blood type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the eight known types
func (t Type) Valid() bool {
	_, ok := donorsFor[t]
	return ok
}

func (t Type) String() string {
	return string(t)
}

// CanDonateTo reports whether red cells of donor are compatible with recipient
func CanDonateTo(donor, recipient Type) bool {
	for _, d := range donorsFor[recipient] {
		if d == donor {
			return true
		}
	}
	return false
}

// CompatibleDonors returns the types recipient can receive, exact match last
func CompatibleDonors(recipient Type) []Type {
	donors := donorsFor[recipient]
	out := make([]Type, len(donors))
	copy(out, donors)
	return out
}

// CompatibleRecipients returns the types that can receive from donor
func CompatibleRecipients(donor Type) []Type {
	var out []Type
	for _, recipient := range all {
		if CanDonateTo(donor, recipient) {
			out = append(out, recipient)
		}
	}
	return out
}
