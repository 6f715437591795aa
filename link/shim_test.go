package link_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/relaycore/meshdir/link"
	"github.com/relaycore/meshdir/wire"
)

var _ = Describe("Shim", func() {
	var (
		peer *link.InMemoryPeer
		shim *link.Shim
	)

	BeforeEach(func() {
		peer = link.NewInMemoryPeer()
		shim = link.NewShim(peer)
	})

	It("should stamp the event with now plus latency", func() {
		evt := wire.NewEventBuilder(wire.GetS).WithBaseAddr(0x40).Build()

		shim.Send(5, evt, 10)

		Expect(evt.SendTime).To(Equal(wire.VTime(15)))
		Expect(peer.Delivered).To(HaveLen(1))
	})

	It("should never schedule a line's next send earlier than its last", func() {
		first := wire.NewEventBuilder(wire.GetS).WithBaseAddr(0x40).Build()
		second := wire.NewEventBuilder(wire.Inv).WithBaseAddr(0x40).Build()

		shim.Send(5, first, 10)
		Expect(first.SendTime).To(Equal(wire.VTime(15)))

		shim.Send(6, second, 10)
		Expect(second.SendTime).To(BeNumerically(">=", first.SendTime))
	})

	It("should track ordering independently per base address", func() {
		a := wire.NewEventBuilder(wire.GetS).WithBaseAddr(0x40).Build()
		b := wire.NewEventBuilder(wire.GetS).WithBaseAddr(0x80).Build()

		shim.Send(100, a, 10)
		shim.Send(0, b, 10)

		Expect(a.SendTime).To(Equal(wire.VTime(110)))
		Expect(b.SendTime).To(Equal(wire.VTime(10)))
	})

	It("should forget a line's bookkeeping on Reset", func() {
		evt := wire.NewEventBuilder(wire.GetS).WithBaseAddr(0x40).Build()
		shim.Send(100, evt, 10)

		shim.Reset(0x40)

		next := wire.NewEventBuilder(wire.GetS).WithBaseAddr(0x40).Build()
		shim.Send(0, next, 10)

		Expect(next.SendTime).To(Equal(wire.VTime(10)))
	})
})
