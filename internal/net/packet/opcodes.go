package packet

// Client → server opcodes.
const (
	C_AUTH   byte = 0x01 // [token\0][client name\0]
	C_BUTTON byte = 0x02 // [action\0][pressed C][hand C]
	C_AXIS   byte = 0x03 // [action\0][value F][hand C]
	C_EVENT  byte = 0x04 // [event\0][target\0][var count C]{[symbol\0][value\0]}
	C_PING   byte = 0x05 // [nonce D]
)

// Server → client opcodes.
const (
	S_HELLO    byte = 0x80 // [api version C]
	S_AUTH     byte = 0x81 // [result C]
	S_PONG     byte = 0x82 // [nonce D]
	S_DELIVERY byte = 0x83 // [opcode C][invoked H]
)

// S_AUTH results.
const (
	AuthOK     byte = 0x00
	AuthDenied byte = 0x01
)

// APIVersion is sent in S_HELLO.
const APIVersion byte = 1
