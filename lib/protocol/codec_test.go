package protocol

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameWithBody(body string) []byte {
	frame := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "text message",
			msg:  NewMessage(KindTextMessage, "alice", "", "lobby", "hi", 1700000000000),
		},
		{
			name: "all fields empty",
			msg:  NewMessage(KindLoginRequest, "", "", "", "", 0),
		},
		{
			name: "unicode and emoji",
			msg:  NewMessage(KindPrivateMessage, "zoë", "Ωmega", "", "héllo 🌍 你好", 42),
		},
		{
			name: "structural delimiters",
			msg:  NewMessage(KindTextMessage, `a"b`, `c\d`, "{room},[x]:y", "say \"hi\", then\n\t}{\\ \u0000 done", -1),
		},
		{
			name: "error response",
			msg:  NewMessage(KindErrorResponse, ServerSender, "", "", "User not found: x", 99),
		},
		{
			name: "version preserved",
			msg: Message{
				Kind:    KindLoginResponse,
				Version: 7,
				Sender:  ServerSender,
				Content: "LOGIN_OK",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.msg)
			require.NoError(t, err)

			length := binary.BigEndian.Uint32(frame[:HeaderSize])
			assert.Equal(t, len(frame)-HeaderSize, int(length))

			got, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestEncodeFieldOrder(t *testing.T) {
	body, err := EncodeBody(NewMessage(KindTextMessage, "alice", "", "lobby", "<b>&</b>", 5))
	require.NoError(t, err)
	assert.Equal(t,
		`{"type":"TEXT_MESSAGE","version":1,"timestamp":5,"sender":"alice","recipient":"","roomId":"lobby","content":"<b>&</b>"}`,
		string(body))
}

func TestEncodeRejectsUnknownKind(t *testing.T) {
	_, err := Encode(Message{Kind: Kind(200), Content: "x"})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = Encode(Message{})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	_, err := Encode(NewMessage(KindTextMessage, "alice", "", "lobby", "\xff\xfe", 1))
	assert.ErrorIs(t, err, ErrMalformedBody)
}

func TestEncodeRejectsOversizedBody(t *testing.T) {
	content := strings.Repeat("a", MaxBodySize)
	_, err := Encode(NewMessage(KindTextMessage, "alice", "", "lobby", content, 1))
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestDecodeLengthCap(t *testing.T) {
	tests := []struct {
		name   string
		length uint32
	}{
		{"one over the cap", MaxBodySize + 1},
		{"negative as int32", 0x80000000},
		{"all bits set", 0xFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := make([]byte, HeaderSize+8)
			binary.BigEndian.PutUint32(frame, tt.length)

			msg, err := Decode(frame)
			assert.ErrorIs(t, err, ErrInvalidLength)
			assert.Equal(t, Message{}, msg)
		})
	}
}

func TestDecodeThreeBytesFails(t *testing.T) {
	for _, input := range [][]byte{{0, 0, 0}, {0xff, 0x01, 0x7f}, {}} {
		msg, err := Decode(input)
		assert.ErrorIs(t, err, ErrIncompleteHeader)
		assert.Equal(t, Message{}, msg)
	}
}

func TestDecodeIncompleteBody(t *testing.T) {
	frame := frameWithBody(`{"type":"TEXT_MESSAGE"}`)
	_, err := Decode(frame[:len(frame)-3])
	assert.ErrorIs(t, err, ErrIncompleteBody)
}

func TestDecodeIgnoresBytesPastDeclaredBody(t *testing.T) {
	frame := frameWithBody(`{"type":"LOGIN_REQUEST","sender":"alice"}`)
	frame = append(frame, "garbage"...)

	msg, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.Sender)
}

func TestDecodeMalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not a record", "hello"},
		{"truncated record", `{"type":"TEXT_MESSAGE","sender":"al`},
		{"array", `["TEXT_MESSAGE"]`},
		{"trailing record", `{"type":"TEXT_MESSAGE"}{"type":"TEXT_MESSAGE"}`},
		{"wrong field type", `{"type":"TEXT_MESSAGE","timestamp":"soon"}`},
		{"invalid utf8", "{\"type\":\"TEXT_MESSAGE\",\"content\":\"\xff\"}"},
		{"negative version", `{"type":"LOGIN_REQUEST","version":-7}`},
		{"zero version", `{"type":"LOGIN_REQUEST","version":0}`},
		{"upper case keys", `{"TYPE":"LOGIN_REQUEST","SENDER":"alice"}`},
		{"duplicate type", `{"type":"TEXT_MESSAGE","type":"LOGIN_REQUEST","sender":"alice"}`},
		{"duplicate content", `{"type":"TEXT_MESSAGE","content":"a","content":"b"}`},
		{"unknown field", `{"type":"TEXT_MESSAGE","priority":1}`},
		{"string record", `"TEXT_MESSAGE"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(frameWithBody(tt.body))
			assert.ErrorIs(t, err, ErrMalformedBody)
		})
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	for _, body := range []string{
		`{"type":"SHOUT","sender":"alice"}`,
		`{"type":"text_message"}`,
		`{"sender":"alice"}`,
		`null`,
	} {
		_, err := Decode(frameWithBody(body))
		assert.ErrorIs(t, err, ErrMalformedBody, body)
		assert.ErrorIs(t, err, ErrUnknownKind, body)
	}
}

func TestDecodeMissingOptionalFields(t *testing.T) {
	msg, err := Decode(frameWithBody(`{"type":"JOIN_ROOM_REQUEST","roomId":"lobby"}`))
	require.NoError(t, err)

	assert.Equal(t, KindJoinRoomRequest, msg.Kind)
	assert.Equal(t, DefaultVersion, msg.Version)
	assert.Zero(t, msg.Timestamp)
	assert.Empty(t, msg.Sender)
	assert.Empty(t, msg.Recipient)
	assert.Empty(t, msg.Content)
	assert.Equal(t, "lobby", msg.RoomID)
}

func TestDecodeNullVersionDefaults(t *testing.T) {
	msg, err := Decode(frameWithBody(`{"type":"TEXT_MESSAGE","version":null,"roomId":"r"}`))
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, msg.Version)
}

func TestEncodeVersion(t *testing.T) {
	frame, err := Encode(Message{Kind: KindTextMessage, RoomID: "lobby", Content: "hi"})
	require.NoError(t, err)
	msg, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, DefaultVersion, msg.Version, "unset version is written as the default")

	_, err = Encode(Message{Kind: KindTextMessage, Version: -1})
	assert.ErrorIs(t, err, ErrMalformedBody)
}

func TestDecodeNullFields(t *testing.T) {
	msg, err := Decode(frameWithBody(`{"type":"TEXT_MESSAGE","recipient":null,"roomId":"r","content":"x"}`))
	require.NoError(t, err)
	assert.Empty(t, msg.Recipient)
}

func TestKindNames(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
		assert.True(t, k.Valid())
	}
	assert.Equal(t, "Kind(42)", Kind(42).String())
	assert.False(t, KindUnknown.Valid())

	_, err := ParseKind("")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestIsFramingError(t *testing.T) {
	_, err := Decode([]byte{1})
	assert.True(t, IsFramingError(err))

	_, err = ParseKind("nope")
	assert.False(t, IsFramingError(err))
	assert.False(t, IsFramingError(nil))
}

func TestMessageStringOmitsContent(t *testing.T) {
	s := NewMessage(KindPrivateMessage, "alice", "bob", "", "secret", 1).String()
	assert.Contains(t, s, "PRIVATE_MESSAGE")
	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, "len=6")
}
