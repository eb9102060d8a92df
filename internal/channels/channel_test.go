package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nextlevelbuilder/talkgate/internal/conversation"
)

func TestSessionKey(t *testing.T) {
	m := Inbound{Channel: Kakao, UserID: "u1"}
	assert.Equal(t, "kakaotalk:direct:u1", m.SessionKey())

	m = Inbound{Channel: MessengerBot, UserID: "sender", ChatID: "room", PeerKind: conversation.PeerGroup}
	assert.Equal(t, "messenger_bot:group:room", m.SessionKey())

	assert.Equal(t, "", Inbound{Channel: Kakao}.SessionKey())
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", Preview(" a \n b\tc ", 20))
	// Each Hangul syllable is two cells wide.
	assert.Equal(t, "안...", Preview("안녕하세요", 6))
}

func TestIsInternalChannel(t *testing.T) {
	assert.True(t, IsInternalChannel(Test))
	assert.True(t, IsInternalChannel(Admin))
	assert.False(t, IsInternalChannel(Kakao))
	assert.False(t, IsInternalChannel(MessengerBot))
}
