package gateway

import (
	"virtualpos/internal/pkg/utils"
)

// Alphabet without the characters the banks' operators confuse on the
// phone (I, O, V, 0, 1).
const operationAlphabet = "ABCDEFGHJKLMNPQRSTUWXYZ23456789"

const operationDigits = "23456789"

// alphaNumCode mints a CECA/Elavon style operation number: random code
// of the given length, optionally led by a prefix and a dash, truncated
// back to length.
func alphaNumCode(prefix string, length int) string {
	code := utils.RandomFrom(operationAlphabet, length)
	if prefix != "" {
		code = prefix + "-" + code
	}
	if len(code) > length {
		code = code[:length]
	}
	return code
}

// redsysCode mints a Redsys order number: 12 characters, the first four
// strictly numeric (a numeric prefix of up to three digits is kept), the
// rest alphanumeric.
func redsysCode(prefix string) string {
	p := utils.DigitsOnly(prefix)
	if len(p) > 3 {
		p = p[:3]
	}
	code := p
	if len(code) < 4 {
		code += utils.RandomFrom(operationDigits, 4-len(code))
	}
	return code + utils.RandomFrom(operationAlphabet, 12-len(code))
}
