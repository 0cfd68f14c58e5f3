package nalu

import kvserrors "github.com/alxayo/kvs-producer/internal/errors"

var (
	errCorruptExpGolomb = kvserrors.NewParseError("nalu.readExpGolomb", errString("exponential-golomb code exceeds 32 leading zero bits"))
)

type errString string

func (e errString) Error() string { return string(e) }
