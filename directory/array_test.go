package directory_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/relaycore/meshdir/directory"
)

var _ = Describe("SimpleArray", func() {
	var a *directory.SimpleArray

	BeforeEach(func() {
		a = directory.NewSimpleArray(2)
	})

	It("should allocate a fresh line for a new address", func() {
		l, ok := a.Allocate(0x1000)
		Expect(ok).To(BeTrue())
		Expect(l.State).To(Equal(directory.I))
		Expect(a.NumAllocated()).To(Equal(1))
	})

	It("should refuse to allocate once full", func() {
		_, ok := a.Allocate(0x1000)
		Expect(ok).To(BeTrue())

		_, ok = a.Allocate(0x2000)
		Expect(ok).To(BeTrue())

		_, ok = a.Allocate(0x3000)
		Expect(ok).To(BeFalse())
	})

	It("should panic when allocating an address already tracked", func() {
		a.Allocate(0x1000)

		Expect(func() { a.Allocate(0x1000) }).To(Panic())
	})

	It("should look up an allocated line", func() {
		a.Allocate(0x1000)

		l, ok := a.Lookup(0x1000)
		Expect(ok).To(BeTrue())
		Expect(l.BaseAddr).To(Equal(uint64(0x1000)))

		_, ok = a.Lookup(0x9000)
		Expect(ok).To(BeFalse())
	})

	It("should pick the least-recently-touched line as the replacement candidate", func() {
		l1, _ := a.Allocate(0x1000)
		l1.State = directory.S

		l2, _ := a.Allocate(0x2000)
		l2.State = directory.S

		victim, ok := a.FindReplacementCandidate()
		Expect(ok).To(BeTrue())
		Expect(victim.BaseAddr).To(Equal(uint64(0x1000)))

		a.Touch(0x1000)

		victim, ok = a.FindReplacementCandidate()
		Expect(ok).To(BeTrue())
		Expect(victim.BaseAddr).To(Equal(uint64(0x2000)))
	})

	It("should skip transitional lines when finding a replacement candidate", func() {
		l1, _ := a.Allocate(0x1000)
		l1.State = directory.IS

		l2, _ := a.Allocate(0x2000)
		l2.State = directory.S

		victim, ok := a.FindReplacementCandidate()
		Expect(ok).To(BeTrue())
		Expect(victim.BaseAddr).To(Equal(uint64(0x2000)))
	})

	It("should report no candidate when every line is transitional", func() {
		l1, _ := a.Allocate(0x1000)
		l1.State = directory.IS

		_, ok := a.FindReplacementCandidate()
		Expect(ok).To(BeFalse())
	})

	It("should replace a line's slot for a new address", func() {
		old, _ := a.Allocate(0x1000)
		old.State = directory.S

		fresh := a.Replace(old, 0x5000)

		Expect(fresh.BaseAddr).To(Equal(uint64(0x5000)))
		Expect(fresh.State).To(Equal(directory.I))

		_, ok := a.Lookup(0x1000)
		Expect(ok).To(BeFalse())

		_, ok = a.Lookup(0x5000)
		Expect(ok).To(BeTrue())
	})

	It("should panic when replacing a line still in transition", func() {
		old, _ := a.Allocate(0x1000)
		old.State = directory.IS

		Expect(func() { a.Replace(old, 0x5000) }).To(Panic())
	})

	It("should reset to empty", func() {
		a.Allocate(0x1000)
		a.Reset()

		Expect(a.NumAllocated()).To(Equal(0))
		_, ok := a.Lookup(0x1000)
		Expect(ok).To(BeFalse())
	})
})
