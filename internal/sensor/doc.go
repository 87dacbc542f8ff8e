// Package sensor implements the framing side of the iRobot Create Open
// Interface sensor stream.
//
// A stream frame is
//
//	0x13 | n | id value [id value ...] | checksum
//
// where n counts the id/value bytes and the checksum makes the byte sum of
// the whole frame zero mod 256. Value widths come from the OI sensor table
// (see FieldFor); two byte values are big-endian.
//
// Reader runs on its own goroutine and turns a ByteSource into a queue of
// valid frames. Accumulator drains that queue into a table of sensor values,
// replacing or summing per id. SyncReader runs the same state machine inline
// for one-shot queries.
package sensor
