// Package wire implements the primitive binary encodings used by the Extend
// protocol and by POF.
//
// # Packed integers
//
// Signed integers of 32, 64 and 128 bits are written in a variable-length
// "packed" form. The first byte carries a continuation bit (0x80), a sign bit
// (0x40) and the six lowest data bits. Each following byte carries a
// continuation bit and seven more data bits, least significant group first.
// Negative values are bitwise complemented before encoding, so small
// magnitudes of either sign take a single byte:
//
//	0      -> 0x00
//	-1     -> 0x40
//	63     -> 0x3F
//	64     -> 0x80 0x01
//	-100000 -> 0xDF 0x9A 0x0C
//
// # Fixed width values
//
// 16, 32 and 64 bit integers and IEEE-754 floats are written big-endian.
// Floats travel as their raw bit patterns, so NaN payloads survive a round
// trip unchanged.
//
// # Strings and octets
//
// Strings are a packed int32 UTF-8 byte count followed by the bytes; a count
// of -1 denotes a null string.
//
// # Errors
//
// Truncated input yields ErrEndOfStream. Input that cannot be a valid
// encoding yields a *CorruptionError; integers that do not fit their target
// width additionally match ErrOverflow.
package wire
