package trader

import "testing"

func TestConditionDequeRequiresFullCapacity(t *testing.T) {
	d := newConditionDeque(3)
	d.Push(true)
	d.Push(true)
	if d.AllTrue() {
		t.Fatal("expected AllTrue to be false before reaching capacity")
	}
	d.Push(true)
	if !d.AllTrue() {
		t.Fatal("expected AllTrue once capacity reached with all true")
	}
}

func TestConditionDequeOneFalseBreaksStreak(t *testing.T) {
	d := newConditionDeque(3)
	d.Push(true)
	d.Push(false)
	d.Push(true)
	if d.AllTrue() {
		t.Fatal("expected AllTrue false with a false observation in window")
	}
}

func TestConditionDequeSlidesWindow(t *testing.T) {
	d := newConditionDeque(2)
	d.Push(false)
	d.Push(true)
	d.Push(true) // false should have slid out
	if !d.AllTrue() {
		t.Fatal("expected AllTrue true after stale false slides out of window")
	}
}
