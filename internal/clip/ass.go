package clip

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/Xinrea/shadowreplay/internal/platform"
	"github.com/Xinrea/shadowreplay/internal/recorder"
)

// Danmaku overlay rendering parameters.
const (
	assPlayResX   = 1920
	assPlayResY   = 1080
	assLaneHeight = 54
	assLaneCount  = 12
	// assTravelSeconds is how long one message takes to scroll across.
	assTravelSeconds = 8.0
)

// assHeader is the ASS script preamble for the scrolling overlay.
const assHeader = `[Script Info]
Title: %s
ScriptType: v4.00+
PlayResX: %d
PlayResY: %d
WrapStyle: 2
ScaledBorderAndShadow: yes

[V4+ Styles]
Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding
Style: Danmu,sans-serif,42,&H00FFFFFF,&H00FFFFFF,&H00000000,&H00000000,0,0,0,0,100,100,0,0,1,2,0,7,0,0,0,1

[Events]
Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Text
`

// writeDanmuASS renders the session's danmaku within [x, y) session seconds
// into a scrolling ASS subtitle file. Event times are shifted by -x so the
// overlay lines up with the clip. The first event's wall clock anchors the
// session timeline, matching how the log and the first segment start
// together.
func writeDanmuASS(danmuPath, assPath, title string, x, y float64) error {
	var b strings.Builder
	fmt.Fprintf(&b, assHeader, assEscape(title), assPlayResX, assPlayResY)

	var baseTS int64
	lane := 0
	err := recorder.StreamDanmu(danmuPath, func(ev platform.DanmuEvent) error {
		if baseTS == 0 {
			baseTS = ev.TS
		}
		at := float64(ev.TS-baseTS) / 1000.0
		if at < x || at >= y {
			return nil
		}

		start := at - x
		end := start + assTravelSeconds
		yPos := (lane % assLaneCount) * assLaneHeight
		lane++

		text := assEscape(ev.Text)
		// Scroll from the right edge to fully off-screen left.
		fmt.Fprintf(&b, "Dialogue: 0,%s,%s,Danmu,,0,0,0,{\\move(%d,%d,%d,%d)}%s\n",
			assTime(start), assTime(end),
			assPlayResX, yPos, -len(text)*42, yPos,
			text,
		)
		return nil
	})
	if err != nil {
		// A session without a danmu log still clips with an empty overlay.
		if errors.Is(err, fs.ErrNotExist) {
			return os.WriteFile(assPath, []byte(b.String()), 0o644)
		}
		return err
	}

	return os.WriteFile(assPath, []byte(b.String()), 0o644)
}

// assTime formats seconds as H:MM:SS.cc.
func assTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := int(seconds) % 60
	cs := int((seconds - float64(int(seconds))) * 100)
	return fmt.Sprintf("%d:%02d:%02d.%02d", h, m, s, cs)
}

// assEscape neutralizes ASS markup in user text.
func assEscape(s string) string {
	out := strings.ReplaceAll(s, "{", "(")
	out = strings.ReplaceAll(out, "}", ")")
	return strings.ReplaceAll(out, "\n", " ")
}
