package consensus

import (
	"bytes"
	"fmt"
)

// Transformer rewrites a request payload for a node specialty. It must be
// deterministic.
type Transformer func(specialty Specialty, t RequestType, payload []byte) []byte

var specialtyInstructions = map[Specialty]string{
	SpecialtyCreative:  "Favor originality and expressive variation.",
	SpecialtyTechnical: "Favor correctness, precision and structural soundness.",
	SpecialtyAesthetic: "Favor visual harmony, composition and style.",
	SpecialtyBalanced:  "Weigh creativity, correctness and style evenly.",
}

// DefaultTransformer prefixes the payload with a specialty instruction header.
// Unknown specialties receive the payload unchanged.
func DefaultTransformer(specialty Specialty, t RequestType, payload []byte) []byte {
	instruction, ok := specialtyInstructions[specialty]
	if !ok {
		return payload
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[%s/%s] %s\n\n", t, specialty, instruction)
	buf.Write(payload)
	return buf.Bytes()
}

// IdentityTransformer passes payloads through untouched.
func IdentityTransformer(_ Specialty, _ RequestType, payload []byte) []byte {
	return payload
}
