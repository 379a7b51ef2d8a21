package proxy

import "testing"

func TestPreConnectBuffer_PushUnderCapSucceeds(t *testing.T) {
	buf := newPreConnectBuffer(100)
	if !buf.push([]byte("hello")) {
		t.Error("expected push under cap to succeed")
	}
	if !buf.push([]byte("world")) {
		t.Error("expected second push under cap to succeed")
	}
}

func TestPreConnectBuffer_DrainReturnsAllFramesInOrder(t *testing.T) {
	buf := newPreConnectBuffer(100)
	buf.push([]byte("a"))
	buf.push([]byte("b"))

	frames := buf.drain()
	if len(frames) != 2 || string(frames[0]) != "a" || string(frames[1]) != "b" {
		t.Errorf("unexpected frames: %v", frames)
	}

	if frames := buf.drain(); len(frames) != 0 {
		t.Errorf("expected drain to empty the buffer, got %d frames", len(frames))
	}
}

func TestPreConnectBuffer_OverflowRejectsFurtherPushes(t *testing.T) {
	buf := newPreConnectBuffer(5)
	if !buf.push([]byte("123")) {
		t.Fatal("expected first push under cap to succeed")
	}
	if buf.push([]byte("4567")) {
		t.Error("expected push exceeding cap to fail")
	}
	if !buf.overflow {
		t.Error("expected overflow flag to be set")
	}
	if buf.push([]byte("x")) {
		t.Error("expected push after overflow to keep failing")
	}
}
