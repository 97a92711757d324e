package util_test

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/netbirdio/qzmanager/util"
)

var _ = Describe("Duration", func() {
	It("should marshal as a duration string", func() {
		bs, err := json.Marshal(util.Duration{Duration: 2 * time.Second})
		Expect(err).NotTo(HaveOccurred())
		Expect(string(bs)).To(Equal(`"2s"`))
	})

	It("should accept strings and nanoseconds", func() {
		var d util.Duration
		Expect(json.Unmarshal([]byte(`"5m"`), &d)).To(Succeed())
		Expect(d.Duration).To(Equal(5 * time.Minute))

		Expect(json.Unmarshal([]byte(`1000000000`), &d)).To(Succeed())
		Expect(d.Duration).To(Equal(time.Second))
	})

	It("should reject other types", func() {
		var d util.Duration
		Expect(json.Unmarshal([]byte(`true`), &d)).NotTo(Succeed())
		Expect(json.Unmarshal([]byte(`"soon"`), &d)).NotTo(Succeed())
	})
})
