package webrtc

import (
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSDP = "v=0\r\n" +
	"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111 103 104\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=rtpmap:103 ISAC/16000\r\n" +
	"a=rtpmap:104 ISAC/32000\r\n"

func TestPreferISAC_MovesISACToHead(t *testing.T) {
	out := PreferISAC(sampleSDP)

	assert.Contains(t, out, "m=audio 9 UDP/TLS/RTP/SAVPF 103 111 104\r\n")
	// only the m=audio line changes
	assert.Equal(t, strings.Replace(sampleSDP,
		"m=audio 9 UDP/TLS/RTP/SAVPF 111 103 104",
		"m=audio 9 UDP/TLS/RTP/SAVPF 103 111 104", 1), out)
}

func TestPreferISAC_Idempotent(t *testing.T) {
	once := PreferISAC(sampleSDP)
	twice := PreferISAC(once)

	assert.Equal(t, once, twice)
}

func TestPreferISAC_NoAudioLine(t *testing.T) {
	in := "v=0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"a=rtpmap:96 VP8/90000\r\n"

	assert.Equal(t, in, PreferISAC(in))
}

func TestPreferISAC_NoISACRtpmap(t *testing.T) {
	in := "v=0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n"

	assert.Equal(t, in, PreferISAC(in))
}

func TestPreferISAC_CaseInsensitiveLFOnly(t *testing.T) {
	in := "v=0\n" +
		"m=audio 9 RTP/SAVPF 0 105\n" +
		"a=rtpmap:105 isac/16000\n"

	out := PreferISAC(in)

	assert.Contains(t, out, "m=audio 9 RTP/SAVPF 105 0\n")
}

func TestPreferISAC_WrongClockRateIgnored(t *testing.T) {
	in := "v=0\r\n" +
		"m=audio 9 RTP/SAVPF 111 104\r\n" +
		"a=rtpmap:104 ISAC/32000\r\n"

	assert.Equal(t, in, PreferISAC(in))
}

func TestPreferISAC_OutputStillParses(t *testing.T) {
	out := PreferISAC(sampleSDP)

	var parsed sdp.SessionDescription
	require.NoError(t, parsed.Unmarshal([]byte(out)))
	require.Len(t, parsed.MediaDescriptions, 1)
	assert.Equal(t, []string{"103", "111", "104"}, parsed.MediaDescriptions[0].MediaName.Formats)
}
