package directory_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/relaycore/meshdir/directory"
)

var _ = Describe("Line", func() {
	var l *directory.Line

	BeforeEach(func() {
		l = directory.NewLine(0x1000)
	})

	It("should start invalid with no sharers or owner", func() {
		Expect(l.State).To(Equal(directory.I))
		Expect(l.HasSharers()).To(BeFalse())
		Expect(l.HasOwner()).To(BeFalse())
	})

	It("should track sharers", func() {
		l.AddSharer("C1")
		l.AddSharer("C2")
		Expect(l.SharerIDs()).To(Equal([]string{"C1", "C2"}))

		l.RemoveSharer("C1")
		Expect(l.SharerIDs()).To(Equal([]string{"C2"}))
	})

	It("should clear the sharer set when an owner is installed", func() {
		l.AddSharer("C1")
		l.SetOwner("C2")

		Expect(l.Owner).To(Equal("C2"))
		Expect(l.HasSharers()).To(BeFalse())
	})

	It("should reset to I on Invalidate", func() {
		l.State = directory.M
		l.SetOwner("C1")

		l.Invalidate()

		Expect(l.State).To(Equal(directory.I))
		Expect(l.HasOwner()).To(BeFalse())
		Expect(l.HasSharers()).To(BeFalse())
	})

	Describe("CheckInvariants", func() {
		noMSHR := func(uint64) bool { return false }

		It("should reject an owner coexisting with sharers", func() {
			l.State = directory.M
			l.Owner = "C1"
			l.Sharers["C2"] = true

			Expect(l.CheckInvariants(noMSHR)).NotTo(BeNil())
		})

		It("should reject state I with an owner or sharers still set", func() {
			l.Owner = "C1"

			Expect(l.CheckInvariants(noMSHR)).NotTo(BeNil())
		})

		It("should reject a transitional state with no MSHR entry", func() {
			l.State = directory.IS

			Expect(l.CheckInvariants(noMSHR)).NotTo(BeNil())

			hasMSHR := func(addr uint64) bool { return addr == l.BaseAddr }
			Expect(l.CheckInvariants(hasMSHR)).To(BeNil())
		})

		It("should reject an uncached stable S/E/M line with no sharer or owner", func() {
			l.State = directory.S

			Expect(l.CheckInvariants(noMSHR)).NotTo(BeNil())

			l.AddSharer("C1")
			Expect(l.CheckInvariants(noMSHR)).To(BeNil())
		})

		It("should accept a cached stable line with no sharer or owner", func() {
			l.State = directory.S
			l.DataLine = make([]byte, 64)

			Expect(l.CheckInvariants(noMSHR)).To(BeNil())
		})
	})
})
