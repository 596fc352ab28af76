package resource

import (
	"errors"
	"testing"
)

func TestWiring_FiltersByNamespace(t *testing.T) {
	a := NewBuilder().Bundle("a", "1.0.0").ExportPackage("p", "1.0.0", nil, nil).MustBuild()
	b := NewBuilder().Bundle("b", "1.0.0").ImportPackage("p", "", nil, nil).RequireBundle("a", "", nil).MustBuild()

	pkgWire, err := WireFor(b.Requirements(NamespacePackage)[0], a.Capabilities(NamespacePackage)[0])
	if err != nil {
		t.Fatalf("WireFor: %v", err)
	}
	bundleWire, err := WireFor(b.Requirements(NamespaceBundle)[0], a.Capabilities(NamespaceBundle)[0])
	if err != nil {
		t.Fatalf("WireFor: %v", err)
	}

	bw, err := NewWiring(b, []*Wire{pkgWire, bundleWire})
	if err != nil {
		t.Fatalf("NewWiring: %v", err)
	}
	aw, _ := NewWiring(a, nil)
	for _, w := range []*Wire{pkgWire, bundleWire} {
		if err := aw.AddProvidedWire(w); err != nil {
			t.Fatalf("AddProvidedWire: %v", err)
		}
	}

	if got := len(bw.RequiredWires("")); got != 2 {
		t.Fatalf("expected 2 required wires, got %d", got)
	}
	if got := bw.RequiredWires(NamespacePackage); len(got) != 1 || got[0] != pkgWire {
		t.Fatalf("expected only the package wire, got %v", got)
	}
	if got := aw.ProvidedWires(NamespaceBundle); len(got) != 1 || got[0] != bundleWire {
		t.Fatalf("expected only the bundle wire, got %v", got)
	}
	if pkgWire.RequirerWiring() != bw || pkgWire.ProviderWiring() != aw {
		t.Fatalf("expected wire to be bound to both wirings")
	}
}

func TestWiring_RejectsForeignWires(t *testing.T) {
	a := NewBuilder().Bundle("a", "1.0.0").ExportPackage("p", "1.0.0", nil, nil).MustBuild()
	b := NewBuilder().Bundle("b", "1.0.0").ImportPackage("p", "", nil, nil).MustBuild()
	wire, _ := WireFor(b.Requirements(NamespacePackage)[0], a.Capabilities(NamespacePackage)[0])

	if _, err := NewWiring(a, []*Wire{wire}); !errors.Is(err, ErrWireMismatch) {
		t.Fatalf("expected ErrWireMismatch for required wire, got %v", err)
	}
	bw, _ := NewWiring(b, nil)
	if err := bw.AddProvidedWire(wire); !errors.Is(err, ErrWireMismatch) {
		t.Fatalf("expected ErrWireMismatch for provided wire, got %v", err)
	}
	if _, err := NewWire(nil, nil, a, b); !errors.Is(err, ErrNilArgument) {
		t.Fatalf("expected ErrNilArgument, got %v", err)
	}
}

// attach wires fragment f to host h and returns both wirings.
func attach(t *testing.T, h, f *Resource) (*Wiring, *Wiring) {
	t.Helper()
	wire, err := WireFor(f.Requirements(NamespaceHost)[0], h.Capabilities(NamespaceHost)[0])
	if err != nil {
		t.Fatalf("WireFor: %v", err)
	}
	fw, err := NewWiring(f, []*Wire{wire})
	if err != nil {
		t.Fatalf("NewWiring: %v", err)
	}
	hw, _ := NewWiring(h, nil)
	if err := hw.AddProvidedWire(wire); err != nil {
		t.Fatalf("AddProvidedWire: %v", err)
	}
	return hw, fw
}

func TestWiring_IsInUse(t *testing.T) {
	h := NewBuilder().Bundle("h", "1.0.0").MustBuild()
	f := NewBuilder().Fragment("f", "1.0.0", "h", "").MustBuild()
	hw, fw := attach(t, h, f)

	if hw.IsInUse() || fw.IsInUse() {
		t.Fatalf("expected nothing in use before any wiring is current")
	}

	h.SwapCurrentWiring(hw)
	if !fw.IsInUse() {
		t.Fatalf("expected fragment wiring in use through its current host")
	}

	h.SwapCurrentWiring(nil)
	f.SwapCurrentWiring(fw)
	if !hw.IsInUse() {
		t.Fatalf("expected host wiring in use through its current fragment")
	}

	f.SwapCurrentWiring(nil)
	stale, _ := NewWiring(h, nil)
	h.SwapCurrentWiring(stale)
	if hw.IsInUse() {
		t.Fatalf("expected stale host wiring not in use once replaced")
	}
}

func TestWiring_IsInUseThroughPackageConsumer(t *testing.T) {
	h := NewBuilder().Bundle("h", "1.0.0").ExportPackage("p", "1.0.0", nil, nil).MustBuild()
	c := NewBuilder().Bundle("c", "1.0.0").ImportPackage("p", "", nil, nil).MustBuild()

	wire, err := WireFor(c.Requirements(NamespacePackage)[0], h.Capabilities(NamespacePackage)[0])
	if err != nil {
		t.Fatalf("WireFor: %v", err)
	}
	cw, err := NewWiring(c, []*Wire{wire})
	if err != nil {
		t.Fatalf("NewWiring: %v", err)
	}
	hw, _ := NewWiring(h, nil)
	if err := hw.AddProvidedWire(wire); err != nil {
		t.Fatalf("AddProvidedWire: %v", err)
	}

	c.SwapCurrentWiring(cw)
	newer, _ := NewWiring(h, nil)
	h.SwapCurrentWiring(newer)
	if !hw.IsInUse() {
		t.Fatalf("expected replaced host wiring in use while it serves a current consumer")
	}

	c.SwapCurrentWiring(nil)
	if hw.IsInUse() {
		t.Fatalf("expected replaced host wiring not in use once its consumer is gone")
	}
}

func TestWiring_IsInUseTerminatesOnCycles(t *testing.T) {
	// A fragment that also acts as its own host: a self-referential graph.
	f := New()
	id, _ := NewIdentityCapability("loop", "1.0.0", TypeFragment, nil, nil)
	hostCap, _ := NewHostCapability("loop", "1.0.0", nil, nil)
	hostReq, _ := NewHostRequirement("loop", "", nil)
	for _, c := range []*Capability{id, hostCap} {
		if err := f.AddCapability(c); err != nil {
			t.Fatalf("AddCapability: %v", err)
		}
	}
	if err := f.AddRequirement(hostReq); err != nil {
		t.Fatalf("AddRequirement: %v", err)
	}
	if err := f.MakeImmutable(); err != nil {
		t.Fatalf("MakeImmutable: %v", err)
	}

	wire, _ := WireFor(hostReq, hostCap)
	w, err := NewWiring(f, []*Wire{wire})
	if err != nil {
		t.Fatalf("NewWiring: %v", err)
	}
	if err := w.AddProvidedWire(wire); err != nil {
		t.Fatalf("AddProvidedWire: %v", err)
	}

	if w.IsInUse() {
		t.Fatalf("expected self-referential wiring not in use")
	}
	f.SwapCurrentWiring(w)
	if !w.IsInUse() {
		t.Fatalf("expected current wiring in use")
	}
}
