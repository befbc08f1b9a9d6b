package pof

// Intrinsic type identifiers.
const (
	TInt16              int32 = -1
	TInt32              int32 = -2
	TInt64              int32 = -3
	TInt128             int32 = -4
	TFloat32            int32 = -5
	TFloat64            int32 = -6
	TFloat128           int32 = -7
	TDecimal32          int32 = -8
	TDecimal64          int32 = -9
	TDecimal128         int32 = -10
	TBoolean            int32 = -11
	TOctet              int32 = -12
	TOctetString        int32 = -13
	TChar               int32 = -14
	TCharString         int32 = -15
	TDate               int32 = -16
	TYearMonthInterval  int32 = -17
	TTime               int32 = -18
	TTimeInterval       int32 = -19
	TDateTime           int32 = -20
	TDayTimeInterval    int32 = -21
	TCollection         int32 = -22
	TUniformCollection  int32 = -23
	TArray              int32 = -24
	TUniformArray       int32 = -25
	TSparseArray        int32 = -26
	TUniformSparseArray int32 = -27
	TMap                int32 = -28
	TUniformKeysMap     int32 = -29
	TUniformMap         int32 = -30
	TIdentity           int32 = -31
	TReference          int32 = -32
)

// Compact value tokens. A token stands for both the type and the value.
const (
	VBooleanFalse     int32 = -33
	VBooleanTrue      int32 = -34
	VStringZeroLength int32 = -35
	VCollectionEmpty  int32 = -36
	VReferenceNull    int32 = -37
	VFPPosInfinity    int32 = -38
	VFPNegInfinity    int32 = -39
	VFPNaN            int32 = -40
	VIntNeg1          int32 = -41
	VInt0             int32 = -42
	VInt22            int32 = -64
)

// Time zone markers following an encoded time of day.
const (
	zoneNone   = 0
	zoneUTC    = 1
	zoneOffset = 2
)

// IsIntrinsic reports whether typeID is a built-in type or token.
func IsIntrinsic(typeID int32) bool {
	return typeID < 0 && typeID >= VInt22
}

func tinyIntToken(n int64) (int32, bool) {
	if n < -1 || n > 22 {
		return 0, false
	}
	return VInt0 - int32(n), true
}

func isTinyIntToken(typeID int32) bool {
	return typeID <= VIntNeg1 && typeID >= VInt22
}

func tinyIntValue(typeID int32) int32 {
	return VInt0 - typeID
}
