package parsing

import (
	"encoding/json"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Money", func() {
	DescribeTable("ParseMoney",
		func(input string, expected Money) {
			m, err := ParseMoney(input)
			Expect(err).NotTo(HaveOccurred())
			Expect(m).To(Equal(expected))
		},
		Entry("two decimals", "12.99", Money(1299)),
		Entry("one decimal", "4.5", Money(450)),
		Entry("whole units", "7", Money(700)),
		Entry("currency prefix", "£1.20", Money(120)),
		Entry("currency suffix", "3,50€", Money(350)),
		Entry("thousands with point decimal", "1,234.56", Money(123456)),
		Entry("thousands with comma decimal", "1.234,56", Money(123456)),
		Entry("grouping only", "1,234", Money(123400)),
		Entry("leading separator", ".99", Money(99)),
		Entry("negative", "-2.00", Money(-200)),
	)

	DescribeTable("ParseMoney rejects",
		func(input string) {
			_, err := ParseMoney(input)
			Expect(err).To(MatchError(ErrInvalidMoney))
		},
		Entry("empty", ""),
		Entry("letters", "abc"),
		Entry("too many fractional digits", "1.2345"),
		Entry("trailing separator", "12."),
		Entry("out of range", "999999999999999999999"),
	)

	It("formats with two fractional digits", func() {
		Expect(Money(5).String()).To(Equal("0.05"))
		Expect(Money(-1050).String()).To(Equal("-10.50"))
	})

	It("multiplies without drift", func() {
		var sum Money
		for i := 0; i < 10; i++ {
			sum += Money(10)
		}
		Expect(sum).To(Equal(Money(100)))
		Expect(Money(333).Mul(3)).To(Equal(Money(999)))
	})

	DescribeTable("multiplies without wrapping",
		func(m Money, quantity int, expected Money) {
			Expect(m.Mul(quantity)).To(Equal(expected))
		},
		Entry("zero quantity", Money(math.MaxInt64), 0, Money(0)),
		Entry("large price and quantity", Money(math.MaxInt64/100-1), 999, Money(math.MaxInt64)),
		Entry("huge quantity", Money(120), math.MaxInt, Money(math.MaxInt64)),
		Entry("negative amount", Money(-math.MaxInt64/2), 3, Money(math.MinInt64)),
		Entry("minimum times minus one", Money(math.MinInt64), -1, Money(math.MaxInt64)),
	)

	It("adds without wrapping", func() {
		Expect(Money(150).Add(240)).To(Equal(Money(390)))
		Expect(Money(math.MaxInt64 - 10).Add(20)).To(Equal(Money(math.MaxInt64)))
		Expect(Money(math.MinInt64 + 10).Add(-20)).To(Equal(Money(math.MinInt64)))
	})

	It("encodes as a JSON number and decodes numbers or strings", func() {
		data, err := json.Marshal(struct {
			Price Money `json:"price"`
		}{Price: 120})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal(`{"price":1.20}`))

		var decoded struct {
			A Money `json:"a"`
			B Money `json:"b"`
		}
		Expect(json.Unmarshal([]byte(`{"a":4.5,"b":"£2.10"}`), &decoded)).To(Succeed())
		Expect(decoded.A).To(Equal(Money(450)))
		Expect(decoded.B).To(Equal(Money(210)))
	})
})
