package capture

import "testing"

func TestFrameGateAdmitsOneFrame(t *testing.T) {
	g := NewFrameGate()

	if !g.TryAdmit() {
		t.Fatal("fresh gate refused admission")
	}
	if g.TryAdmit() {
		t.Fatal("gate admitted a second frame while one is in flight")
	}
	if !g.InFlight() {
		t.Fatal("InFlight false while slot held")
	}

	g.Release()
	if g.InFlight() {
		t.Fatal("InFlight true after release")
	}
	if !g.TryAdmit() {
		t.Fatal("gate refused admission after release")
	}
	g.Release()
}

func TestFrameGateReleaseWithoutAdmit(t *testing.T) {
	g := NewFrameGate()
	g.Release() // no-op
	if !g.TryAdmit() {
		t.Fatal("gate broken by spurious release")
	}
	g.Release()
	g.Release() // extra release is still a no-op
	if !g.TryAdmit() {
		t.Fatal("gate broken by extra release")
	}
}
