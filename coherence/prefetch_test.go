package coherence_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/relaycore/meshdir/coherence"
	"github.com/relaycore/meshdir/directory"
	"github.com/relaycore/meshdir/wire"
)

var _ = Describe("Prefetch bookkeeping", func() {
	var f *fixture

	BeforeEach(func() {
		f = defaultFixture()
	})

	It("clears the prefetch flag and records a hit on a demand access to a prefetched line", func() {
		baseAddr := uint64(0xC000)
		l := f.seedLine(baseAddr, directory.S, "")
		l.DataLine = []byte{1, 1, 1, 1}
		l.Prefetch = true

		outcome := f.ctrl.Handle(0, req(wire.GetS, baseAddr, "C1"))
		Expect(outcome).To(Equal(coherence.Done))

		Expect(l.Prefetch).To(BeFalse())
		Expect(f.sink.PrefetchHits()).To(Equal(1))
	})

	It("leaves an untouched line's prefetch flag alone when the access is itself a prefetch", func() {
		baseAddr := uint64(0xC100)
		l := f.seedLine(baseAddr, directory.S, "")
		l.DataLine = []byte{2, 2, 2, 2}
		l.Prefetch = true

		getS := wire.NewEventBuilder(wire.GetS).
			WithBaseAddr(baseAddr).
			WithSrc("C1").
			WithDst("L2").
			WithPrefetch(true).
			Build()

		outcome := f.ctrl.Handle(0, getS)
		Expect(outcome).To(Equal(coherence.Done))

		Expect(l.Prefetch).To(BeTrue())
	})
})
