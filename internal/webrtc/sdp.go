package webrtc

import (
	"regexp"
	"strings"
)

// rtpmap line announcing ISAC at 16kHz, optionally carrying the \r of a
// CRLF-formatted blob.
var isacRtpmap = regexp.MustCompile(`(?i)^a=rtpmap:(\d+) ISAC/16000\r?$`)

// PreferISAC rewrites an SDP blob so the ISAC/16000 payload type is the
// first codec listed on the audio media line. When the blob has no
// m=audio line or no ISAC/16000 rtpmap entry it is returned unchanged.
// Only the m=audio line is touched; the transform is idempotent.
func PreferISAC(sdp string) string {
	lines := strings.Split(sdp, "\n")

	mLineIndex := -1
	isacPT := ""
	for i, line := range lines {
		if mLineIndex < 0 && strings.HasPrefix(line, "m=audio ") {
			mLineIndex = i
		}
		if isacPT == "" {
			if m := isacRtpmap.FindStringSubmatch(line); m != nil {
				isacPT = m[1]
			}
		}
	}
	if mLineIndex < 0 || isacPT == "" {
		return sdp
	}

	mLine := lines[mLineIndex]
	hadCR := strings.HasSuffix(mLine, "\r")
	fields := strings.Fields(strings.TrimSuffix(mLine, "\r"))
	if len(fields) < 3 {
		return sdp
	}

	// m=audio <port> <proto> stay put, ISAC moves to the head of the
	// payload list, everything else keeps its relative order.
	rebuilt := make([]string, 0, len(fields)+1)
	rebuilt = append(rebuilt, fields[:3]...)
	rebuilt = append(rebuilt, isacPT)
	for _, pt := range fields[3:] {
		if pt != isacPT {
			rebuilt = append(rebuilt, pt)
		}
	}

	newLine := strings.Join(rebuilt, " ")
	if hadCR {
		newLine += "\r"
	}
	lines[mLineIndex] = newLine

	return strings.Join(lines, "\n")
}
