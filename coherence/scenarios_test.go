package coherence_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/relaycore/meshdir/coherence"
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/wire"
)

var _ = Describe("Scenarios", func() {
	var f *fixture

	BeforeEach(func() {
		f = defaultFixture()
	})

	It("A: MESI read miss resolves to a clean upgrade", func() {
		baseAddr := uint64(0x1000)

		outcome := f.ctrl.Handle(0, req(wire.GetS, baseAddr, "C1"))
		Expect(outcome).To(Equal(coherence.Stall))

		sent := f.down.Drain()
		Expect(sent).To(HaveLen(1))
		Expect(sent[0].Command).To(Equal(wire.GetS))
		Expect(sent[0].Dst).To(Equal("MEM"))

		payload := []byte{0xAA, 0xAA, 0xAA, 0xAA}
		outcome = f.ctrl.Handle(1, resp(wire.GetXResp, baseAddr, "MEM", payload))
		Expect(outcome).To(Equal(coherence.Done))

		delivered := f.up.Drain()
		Expect(delivered).To(HaveLen(1))
		Expect(delivered[0].Command).To(Equal(wire.GetXResp))
		Expect(delivered[0].Dst).To(Equal("C1"))
		Expect(delivered[0].Payload).To(Equal(payload))
		Expect(delivered[0].Dirty).To(BeFalse())

		l, ok := f.array.Lookup(baseAddr)
		Expect(ok).To(BeTrue())
		Expect(l.State).To(Equal(directory.E))
		Expect(l.Owner).To(Equal("C1"))
		Expect(f.table.Lookup(baseAddr)).To(BeFalse())
	})

	It("B: a write upgrade invalidates the other sharer before completing", func() {
		baseAddr := uint64(0x2000)
		l := f.seedLine(baseAddr, directory.S, "", "C1", "C2")
		l.DataLine = []byte{0x11, 0x11, 0x11, 0x11}

		outcome := f.ctrl.Handle(0, req(wire.GetX, baseAddr, "C2"))
		Expect(outcome).To(Equal(coherence.Stall))
		Expect(l.State).To(Equal(directory.SMInv))

		up := f.up.Drain()
		Expect(up).To(HaveLen(1))
		Expect(up[0].Command).To(Equal(wire.Inv))
		Expect(up[0].Dst).To(Equal("C1"))

		down := f.down.Drain()
		Expect(down).To(HaveLen(1))
		Expect(down[0].Command).To(Equal(wire.GetX))
		Expect(down[0].Dst).To(Equal("MEM"))

		outcome = f.ctrl.Handle(1, req(wire.AckInv, baseAddr, "C1"))
		Expect(outcome).To(Equal(coherence.Done))
		Expect(l.State).To(Equal(directory.SM))

		outcome = f.ctrl.Handle(2, resp(wire.GetXResp, baseAddr, "MEM", nil))
		Expect(outcome).To(Equal(coherence.Done))

		delivered := f.up.Drain()
		Expect(delivered).To(HaveLen(1))
		Expect(delivered[0].Command).To(Equal(wire.GetXResp))
		Expect(delivered[0].Dst).To(Equal("C2"))

		Expect(l.State).To(Equal(directory.M))
		Expect(l.Owner).To(Equal("C2"))
		Expect(l.HasSharers()).To(BeFalse())
	})

	It("C: a PutM racing a downstream FetchInv absorbs as the fetch response", func() {
		baseAddr := uint64(0x3000)
		l := f.seedLine(baseAddr, directory.M, "C1")
		l.DataLine = make([]byte, 4)

		outcome := f.ctrl.Handle(0, req(wire.FetchInv, baseAddr, "MEM"))
		Expect(outcome).To(Equal(coherence.Stall))
		Expect(l.State).To(Equal(directory.MInv))

		dirty := []byte{0xDE, 0xAD, 0xBE, 0xEF}
		putM := resp(wire.PutM, baseAddr, "C1", dirty)
		putM.Dirty = true

		outcome = f.ctrl.Handle(1, putM)
		Expect(outcome).To(Equal(coherence.Done))

		down := f.down.Drain()
		Expect(down).To(HaveLen(1))
		Expect(down[0].Command).To(Equal(wire.FetchResp))
		Expect(down[0].Payload).To(Equal(dirty))
		Expect(down[0].Dirty).To(BeTrue())

		Expect(l.State).To(Equal(directory.I))
	})

	It("D: eviction of an uncached shared line fetches from the sharer before the writeback", func() {
		cfg := coherence.DefaultConfig()
		cfg.Capacity = 1
		cfg.ExpectWritebackAck = false
		f = newFixture(cfg)

		victimAddr := uint64(0x4000)
		l := f.seedLine(victimAddr, directory.S, "", "C1")

		newAddr := uint64(0x9000)
		outcome := f.ctrl.Handle(0, req(wire.GetS, newAddr, "C3"))
		Expect(outcome).To(Equal(coherence.Block))
		Expect(l.State).To(Equal(directory.SI))

		up := f.up.Drain()
		Expect(up).To(HaveLen(1))
		Expect(up[0].Command).To(Equal(wire.FetchInv))
		Expect(up[0].Dst).To(Equal("C1"))

		payload := []byte{7, 7, 7, 7}
		ackInv := req(wire.AckInv, victimAddr, "C1")
		ackInv.Payload = payload

		outcome = f.ctrl.Handle(1, ackInv)
		Expect(outcome).To(Equal(coherence.Done))

		// The writeback and the retried new-address miss both happen
		// synchronously while settling the eviction's transaction, so both
		// sends land in the same drain.
		down := f.down.Drain()
		Expect(down).To(HaveLen(2))
		Expect(down[0].Command).To(Equal(wire.PutS))
		Expect(down[0].Payload).To(Equal(payload))
		Expect(down[1].Command).To(Equal(wire.GetS))
		Expect(down[1].Dst).To(Equal("MEM"))

		_, stillThere := f.array.Lookup(victimAddr)
		Expect(stillThere).To(BeFalse())

		freshLine, ok := f.array.Lookup(newAddr)
		Expect(ok).To(BeTrue())
		Expect(freshLine.State).To(Equal(directory.IS))
	})

	It("E: FlushLineInv with an owner present pulls data then forwards downstream", func() {
		baseAddr := uint64(0x5000)
		l := f.seedLine(baseAddr, directory.M, "C1")

		outcome := f.ctrl.Handle(0, req(wire.FlushLineInv, baseAddr, "C2"))
		Expect(outcome).To(Equal(coherence.Stall))
		Expect(l.State).To(Equal(directory.SBInv))

		up := f.up.Drain()
		Expect(up).To(HaveLen(1))
		Expect(up[0].Command).To(Equal(wire.FetchInv))
		Expect(up[0].Dst).To(Equal("C1"))

		dirty := []byte{1, 2, 3, 4}
		fr := resp(wire.FetchResp, baseAddr, "C1", dirty)
		fr.Dirty = true

		outcome = f.ctrl.Handle(1, fr)
		Expect(outcome).To(Equal(coherence.Stall))
		Expect(l.State).To(Equal(directory.IB))

		down := f.down.Drain()
		Expect(down).To(HaveLen(1))
		Expect(down[0].Command).To(Equal(wire.FlushLineInv))
		Expect(down[0].Payload).To(Equal(dirty))

		outcome = f.ctrl.Handle(2, resp(wire.FlushLineResp, baseAddr, "MEM", nil))
		Expect(outcome).To(Equal(coherence.Done))
		Expect(l.State).To(Equal(directory.I))
	})

	It("F: a stale NACK for a target no longer sharing the line is dropped", func() {
		baseAddr := uint64(0x6000)
		l := f.seedLine(baseAddr, directory.M, "", "C1", "C2")
		l.Owner = ""
		l.Sharers = map[string]bool{}

		fetchInv := wire.NewEventBuilder(wire.FetchInv).
			WithBaseAddr(baseAddr).
			WithSrc("L2").
			WithDst("C1").
			Build()

		nack := wire.NewEventBuilder(wire.NACK).
			WithBaseAddr(baseAddr).
			WithNACKedEvent(fetchInv).
			Build()

		outcome := f.ctrl.Handle(0, nack)
		Expect(outcome).To(Equal(coherence.Ignore))

		Expect(f.up.Drain()).To(BeEmpty())

		_ = l
	})
})
