package e1381

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Checksum tests ---

func TestChecksum(t *testing.T) {
	assert.Equal(t, byte(0), Checksum(nil))
	assert.Equal(t, byte(0), Checksum([]byte{}))
	assert.Equal(t, byte('A'), Checksum([]byte("A")))

	// The sum truncates to 8 bits.
	assert.Equal(t, byte(0x01), Checksum([]byte{0xFF, 0x02}))
	assert.Equal(t, byte(0x00), Checksum([]byte{0x80, 0x80}))

	// '1' + 'A' + CR + ETX = 0x31 + 0x41 + 0x0D + 0x03 = 0x82
	assert.Equal(t, byte(0x82), Checksum([]byte{'1', 'A', CR, ETX}))
}

func TestRenderChecksum(t *testing.T) {
	assert.Equal(t, [2]byte{'0', '0'}, renderChecksum(0x00))
	assert.Equal(t, [2]byte{'8', '2'}, renderChecksum(0x82))
	assert.Equal(t, [2]byte{'F', 'F'}, renderChecksum(0xFF))
	assert.Equal(t, [2]byte{'0', 'A'}, renderChecksum(0x0A))
}

func TestParseChecksum(t *testing.T) {
	cs, err := parseChecksum('8', '2')
	require.NoError(t, err)
	assert.Equal(t, byte(0x82), cs)

	// Lowercase digits are accepted on decode.
	cs, err = parseChecksum('f', 'f')
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), cs)

	_, err = parseChecksum('G', '0')
	assert.ErrorIs(t, err, ErrBadChecksumHex)

	_, err = parseChecksum('0', ' ')
	assert.ErrorIs(t, err, ErrBadChecksumHex)
}

// --- Frame encoding tests ---

func TestFrameEncode(t *testing.T) {
	f := Frame{Number: 1, Payload: []byte("H|\\^&"), Terminator: ETX}

	wire, err := f.Encode()
	require.NoError(t, err)

	// STX '1' H | \ ^ & CR ETX <hi> <lo> CR LF
	require.Len(t, wire, 13)
	assert.Equal(t, STX, wire[0])
	assert.Equal(t, byte('1'), wire[1])
	assert.Equal(t, []byte("H|\\^&"), wire[2:7])
	assert.Equal(t, CR, wire[7], "record terminator CR must be appended")
	assert.Equal(t, ETX, wire[8])
	assert.Equal(t, CR, wire[11])
	assert.Equal(t, LF, wire[12])

	// Wire checksum covers number digit through terminator.
	expected := renderChecksum(Checksum(wire[1 : len(wire)-4]))
	assert.Equal(t, expected[0], wire[9])
	assert.Equal(t, expected[1], wire[10])
}

func TestFrameEncode_PayloadAlreadyCRTerminated(t *testing.T) {
	withCR, err := EncodeFrame(1, []byte("P|1\r"))
	require.NoError(t, err)

	withoutCR, err := EncodeFrame(1, []byte("P|1"))
	require.NoError(t, err)

	assert.Equal(t, withCR, withoutCR, "no double CR when the record already ends with one")
}

func TestFrameEncode_DefaultTerminator(t *testing.T) {
	f := Frame{Number: 2, Payload: []byte("P|1")}

	wire, err := f.Encode()
	require.NoError(t, err)
	assert.Equal(t, ETX, wire[len(wire)-5], "zero Terminator defaults to ETX")
}

func TestFrameEncode_ETBTerminator(t *testing.T) {
	f := Frame{Number: 3, Payload: []byte("C|1|partial\r"), Terminator: ETB}

	wire, err := f.Encode()
	require.NoError(t, err)
	assert.Equal(t, ETB, wire[len(wire)-5])

	// The terminator participates in the checksum.
	expected := renderChecksum(Checksum(wire[1 : len(wire)-4]))
	assert.Equal(t, expected[0], wire[len(wire)-4])
	assert.Equal(t, expected[1], wire[len(wire)-3])
}

func TestFrameEncode_InvalidNumber(t *testing.T) {
	for _, n := range []int{-1, 8, 100} {
		f := Frame{Number: n, Payload: []byte("P|1")}
		_, err := f.Encode()
		assert.ErrorIs(t, err, ErrInvalidFrameNumber, "number %d", n)
	}
}

func TestFrameChecksumMatchesWire(t *testing.T) {
	f := Frame{Number: 5, Payload: []byte("O|1|SAMPLE01||^^^WBC"), Terminator: ETX}

	wire, err := f.Encode()
	require.NoError(t, err)

	expected := renderChecksum(f.Checksum())
	assert.Equal(t, expected[0], wire[len(wire)-4])
	assert.Equal(t, expected[1], wire[len(wire)-3])
}

// Any single bit flip in the covered byte range changes an 8-bit arithmetic
// sum, so corruption of one bit is always detected.
func TestChecksum_SingleBitFlipDetected(t *testing.T) {
	wire := encodeTestFrame(t, 1, "R|1|^^^WBC|6.2|10*3/uL")

	covered := wire[1 : len(wire)-4] // number digit through terminator
	original := Checksum(covered)

	for i := range covered {
		for bit := 0; bit < 8; bit++ {
			mutated := make([]byte, len(covered))
			copy(mutated, covered)
			mutated[i] ^= 1 << bit

			assert.NotEqual(t, original, Checksum(mutated),
				"flip of byte %d bit %d must change the checksum", i, bit)
		}
	}
}

// --- Frame counter tests ---

func TestFrameCounter_Sequence(t *testing.T) {
	var c frameCounter

	want := []int{1, 2, 3, 4, 5, 6, 7, 0, 1, 2}
	for i, expected := range want {
		assert.Equal(t, expected, c.next(), "call %d", i+1)
	}
}

func TestFrameNumberFromDigit(t *testing.T) {
	assert.Equal(t, 0, frameNumberFromDigit('0'))
	assert.Equal(t, 7, frameNumberFromDigit('7'))
	assert.Equal(t, -1, frameNumberFromDigit('8'))
	assert.Equal(t, -1, frameNumberFromDigit('A'))
	assert.Equal(t, -1, frameNumberFromDigit(STX))
}
