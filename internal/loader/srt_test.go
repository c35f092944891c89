package loader

import (
	"strings"
	"testing"
	"time"
)

func TestCleanSRT(t *testing.T) {
	in := "1\n00:00:01,600 --> 00:00:07,279\n  Hello there  \n\n2\n00:00:07,280 --> 00:00:09,000\nGeneral Kenobi\n\n"
	if got := CleanSRT(in); got != "Hello there General Kenobi" {
		t.Errorf("CleanSRT = %q", got)
	}
	if got := CleanSRT(""); got != "" {
		t.Errorf("CleanSRT(empty) = %q", got)
	}
	// Numbers inside sentences survive; only whole-line indexes are dropped.
	if got := CleanSRT("1\nthere are 42 apples"); got != "there are 42 apples" {
		t.Errorf("CleanSRT = %q", got)
	}
}

func TestParseTimedText_Legacy(t *testing.T) {
	xml := `<?xml version="1.0" encoding="utf-8" ?><transcript>
<text start="1.5" dur="2.25">Hello &amp;amp; welcome</text>
<text start="4" dur="1">second   line</text>
<text start="5" dur="1"></text>
</transcript>`
	caps, err := parseTimedText(strings.NewReader(xml))
	if err != nil {
		t.Fatalf("parseTimedText: %v", err)
	}
	if len(caps) != 2 {
		t.Fatalf("got %d captions, want 2", len(caps))
	}
	if caps[0].text != "Hello & welcome" {
		t.Errorf("caps[0].text = %q", caps[0].text)
	}
	if caps[0].start != 1500*time.Millisecond || caps[0].dur != 2250*time.Millisecond {
		t.Errorf("caps[0] timing = %v/%v", caps[0].start, caps[0].dur)
	}
	if caps[1].text != "second line" {
		t.Errorf("caps[1].text = %q", caps[1].text)
	}
}

func TestParseTimedText_Srv3(t *testing.T) {
	xml := `<timedtext format="3"><body><p t="0" d="1200">hola</p><p t="1200" d="800">mundo</p></body></timedtext>`
	caps, err := parseTimedText(strings.NewReader(xml))
	if err != nil {
		t.Fatal(err)
	}
	if len(caps) != 2 || caps[1].start != 1200*time.Millisecond {
		t.Fatalf("caps = %+v", caps)
	}
}

func TestToSRTThenClean(t *testing.T) {
	caps := []caption{
		{start: 0, dur: 1500 * time.Millisecond, text: "first"},
		{start: time.Hour + 2*time.Minute + 3*time.Second, dur: time.Second, text: "second"},
	}
	srt := toSRT(caps)
	if !strings.Contains(srt, "00:00:00,000 --> 00:00:01,500") {
		t.Errorf("srt missing first timestamp:\n%s", srt)
	}
	if !strings.Contains(srt, "01:02:03,000 --> 01:02:04,000") {
		t.Errorf("srt missing second timestamp:\n%s", srt)
	}
	if got := CleanSRT(srt); got != "first second" {
		t.Errorf("CleanSRT(toSRT) = %q", got)
	}
}
