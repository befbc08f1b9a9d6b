// Package pof implements the Portable Object Format, the self-describing
// binary value format carried by Extend messages.
//
// Every value starts with a packed type id. Negative ids name intrinsic
// types (integers, floats, strings, dates, arrays, maps) or compact tokens
// that stand for a whole value such as true, 0 or the empty string.
// Non-negative ids name user types registered in a Context.
//
// A user object is written as its version id followed by (index, value)
// pairs in ascending index order and a -1 terminator. Readers skip
// properties they do not ask for, so a newer writer can add properties
// without breaking an older reader; Evolvable types go further and carry
// unknown properties through a read/write cycle untouched.
//
//	ctx := pof.NewContext()
//	ctx.MustRegister(1001, func() pof.PortableObject { return new(Person) })
//	data, err := ctx.Serialize(&Person{Name: "Ada"})
//
// With WithReferences, a pointer user object reachable more than once is
// written in full the first time and as a back-reference afterwards, which
// preserves shared and cyclic object graphs.
package pof
