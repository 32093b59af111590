package segmenter_test

import (
	"testing"

	"github.com/arcvox/duplexd/internal/segmenter"
)

func TestFeed_SingleSentence(t *testing.T) {
	s := segmenter.New(1, 180)
	segs := s.Feed("Hello there. ")
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if segs[0].Text != "Hello there." {
		t.Errorf("text = %q, want %q", segs[0].Text, "Hello there.")
	}
	if segs[0].SegmentIndex != 0 {
		t.Errorf("segment_index = %d, want 0", segs[0].SegmentIndex)
	}
}

func TestFeed_MultipleSentencesInOneChunk(t *testing.T) {
	s := segmenter.New(1, 180)
	segs := s.Feed("One. Two! Three? ")
	if len(segs) != 3 {
		t.Fatalf("got %d segments, want 3", len(segs))
	}
	want := []string{"One.", "Two!", "Three?"}
	for i, w := range want {
		if segs[i].Text != w {
			t.Errorf("segment %d = %q, want %q", i, segs[i].Text, w)
		}
		if segs[i].SegmentIndex != i {
			t.Errorf("segment %d index = %d, want %d", i, segs[i].SegmentIndex, i)
		}
	}
}

func TestFeed_AccumulatesAcrossTokens(t *testing.T) {
	s := segmenter.New(1, 180)
	var all []string
	for _, tok := range []string{"Hel", "lo wor", "ld. By", "e now."} {
		for _, seg := range s.Feed(tok) {
			all = append(all, seg.Text)
		}
	}
	if len(all) != 1 {
		t.Fatalf("got %d segments before flush, want 1, got %v", len(all), all)
	}
	if all[0] != "Hello world." {
		t.Errorf("segment = %q, want %q", all[0], "Hello world.")
	}

	final, ok := s.Flush()
	if !ok {
		t.Fatal("expected a final segment from Flush")
	}
	if final.Text != "Bye now." {
		t.Errorf("flush segment = %q, want %q", final.Text, "Bye now.")
	}
}

func TestFeed_CJKTerminators(t *testing.T) {
	s := segmenter.New(1, 180)
	segs := s.Feed("你好。 再见！ ")
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Text != "你好。" {
		t.Errorf("segment 0 = %q, want %q", segs[0].Text, "你好。")
	}
	if segs[1].Text != "再见！" {
		t.Errorf("segment 1 = %q, want %q", segs[1].Text, "再见！")
	}
}

func TestFeed_HardLengthBound(t *testing.T) {
	s := segmenter.New(1, 10)
	segs := s.Feed("this sentence has no terminating punctuation at all so it keeps growing")
	if len(segs) == 0 {
		t.Fatal("expected at least one segment flushed by the length bound")
	}
	for _, seg := range segs {
		if len(seg.Text) < 10 {
			t.Errorf("segment %q shorter than the hard bound", seg.Text)
		}
	}
}

func TestFlush_EmptyBuffer(t *testing.T) {
	s := segmenter.New(1, 180)
	_, ok := s.Flush()
	if ok {
		t.Error("expected Flush on empty buffer to return ok=false")
	}
}

func TestFlush_NoTrailingPunctuation(t *testing.T) {
	s := segmenter.New(1, 180)
	_ = s.Feed("Wait for it")
	final, ok := s.Flush()
	if !ok {
		t.Fatal("expected a final segment from Flush")
	}
	if final.Text != "Wait for it" {
		t.Errorf("flush segment = %q, want %q", final.Text, "Wait for it")
	}
}

func TestFeed_SegmentIndexMonotonic(t *testing.T) {
	s := segmenter.New(42, 180)
	segs := s.Feed("A. B. C. ")
	for i, seg := range segs {
		if seg.TurnID != 42 {
			t.Errorf("segment %d turn_id = %d, want 42", i, seg.TurnID)
		}
		if seg.SegmentIndex != i {
			t.Errorf("segment %d index = %d, want %d", i, seg.SegmentIndex, i)
		}
	}
}
